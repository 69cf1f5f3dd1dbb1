package store

import (
	"errors"
	"fmt"
	"testing"
)

// testDAO is a scriptable DAO for exercising the manager lifecycle.
type testDAO struct {
	version  int
	upgrade  func(from int, c *Conn) error
	upgrades []int // from-versions passed to UpgradeFrom
	manager  *Manager
}

func (d *testDAO) Version() int { return d.version }

func (d *testDAO) Bind(m *Manager) { d.manager = m }

func (d *testDAO) UpgradeFrom(from int, c *Conn) error {
	d.upgrades = append(d.upgrades, from)
	if d.upgrade != nil {
		return d.upgrade(from, c)
	}
	return nil
}

// appsDescriptor scripts a DAO named Apps whose table holds one counter row.
func appsDescriptor(version int) (Descriptor, *testDAO) {
	dao := &testDAO{
		version: version,
		upgrade: func(from int, c *Conn) error {
			if from == 0 {
				if _, err := c.Exec(`CREATE TABLE apps (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`); err != nil {
					return err
				}
			}
			return nil
		},
	}
	return Descriptor{Name: "Apps", New: func() (DAO, error) { return dao, nil }}, dao
}

func openTestManager(t *testing.T, dir string) *Manager {
	t.Helper()
	mgr, err := Open(dir)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := mgr.Startup(); err != nil {
		t.Fatalf("failed to start store: %v", err)
	}
	return mgr
}

func TestGetMigratesCachesAndBinds(t *testing.T) {
	dir := t.TempDir()
	mgr := openTestManager(t, dir)
	defer mgr.Shutdown()

	desc, dao := appsDescriptor(3)

	got, err := mgr.Get(desc)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got != DAO(dao) {
		t.Fatal("expected the factory's instance back")
	}
	if dao.manager != mgr {
		t.Fatal("expected DAO to be bound to the manager")
	}
	if len(dao.upgrades) != 1 || dao.upgrades[0] != 0 {
		t.Fatalf("expected one upgrade from 0, got %v", dao.upgrades)
	}
	if v := mgr.Versions()["Apps"]; v != 3 {
		t.Fatalf("expected recorded version 3, got %d", v)
	}

	// Second resolution must hit the cache: same instance, no migration.
	again, err := mgr.Get(desc)
	if err != nil {
		t.Fatalf("second Get returned error: %v", err)
	}
	if again != got {
		t.Fatal("expected the cached instance on second Get")
	}
	if len(dao.upgrades) != 1 {
		t.Fatalf("expected no further upgrades, got %v", dao.upgrades)
	}
}

func TestGetNoMigrationWhenVersionsMatch(t *testing.T) {
	dir := t.TempDir()

	mgr := openTestManager(t, dir)
	desc, _ := appsDescriptor(3)
	if _, err := mgr.Get(desc); err != nil {
		t.Fatalf("initial Get returned error: %v", err)
	}
	if err := mgr.Shutdown(); err != nil {
		t.Fatalf("shutdown returned error: %v", err)
	}

	// A fresh manager over the same files sees equal versions and must not
	// touch the schema.
	mgr2 := openTestManager(t, dir)
	defer mgr2.Shutdown()

	desc2, dao2 := appsDescriptor(3)
	if _, err := mgr2.Get(desc2); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if len(dao2.upgrades) != 0 {
		t.Fatalf("expected no upgrades, got %v", dao2.upgrades)
	}
}

func TestGetVersionConflict(t *testing.T) {
	dir := t.TempDir()

	mgr := openTestManager(t, dir)
	newer, _ := appsDescriptor(3)
	if _, err := mgr.Get(newer); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if err := mgr.Shutdown(); err != nil {
		t.Fatalf("shutdown returned error: %v", err)
	}

	// Older code against the newer store must fail and leave the row alone.
	mgr2 := openTestManager(t, dir)
	older, dao := appsDescriptor(2)

	_, err := mgr2.Get(older)
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	if len(dao.upgrades) != 0 {
		t.Fatalf("expected no upgrade attempts, got %v", dao.upgrades)
	}

	// The failure is not cached either: a retry fails the same way.
	if _, err := mgr2.Get(older); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict on retry, got %v", err)
	}
	if err := mgr2.Shutdown(); err != nil {
		t.Fatalf("shutdown returned error: %v", err)
	}

	mgr3 := openTestManager(t, dir)
	defer mgr3.Shutdown()
	if v := mgr3.Versions()["Apps"]; v != 3 {
		t.Fatalf("expected persisted version to remain 3, got %d", v)
	}
}

func TestMigrationAtomicity(t *testing.T) {
	dir := t.TempDir()
	mgr := openTestManager(t, dir)
	defer mgr.Shutdown()

	boom := errors.New("boom")
	failing := &testDAO{
		version: 2,
		upgrade: func(from int, c *Conn) error {
			// Partial work before the failure must be rolled back.
			if _, err := c.Exec(`CREATE TABLE partial (id INTEGER PRIMARY KEY)`); err != nil {
				return err
			}
			return boom
		},
	}
	desc := Descriptor{Name: "Partial", New: func() (DAO, error) { return failing, nil }}

	_, err := mgr.Get(desc)
	if !errors.Is(err, ErrMigration) {
		t.Fatalf("expected ErrMigration, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected the upgrade's error in the chain, got %v", err)
	}
	if v := mgr.Versions()["Partial"]; v != 0 {
		t.Fatalf("expected version to remain 0 after failed migration, got %d", v)
	}

	// The rolled-back table must not exist.
	c, err := mgr.Connect()
	if err != nil {
		t.Fatalf("failed to borrow connection: %v", err)
	}
	defer mgr.Disconnect(c)
	var count int
	if err := c.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'partial'`).Scan(&count); err != nil {
		t.Fatalf("failed to query sqlite_master: %v", err)
	}
	if count != 0 {
		t.Fatal("expected partial table to be rolled back")
	}

	// A later call may retry; with the fault cleared the migration lands.
	failing.upgrade = func(from int, c *Conn) error {
		_, err := c.Exec(`CREATE TABLE partial (id INTEGER PRIMARY KEY)`)
		return err
	}
	if _, err := mgr.Get(desc); err != nil {
		t.Fatalf("retry Get returned error: %v", err)
	}
	if v := mgr.Versions()["Partial"]; v != 2 {
		t.Fatalf("expected version 2 after retry, got %d", v)
	}
}

func TestStartupRegistryConsistency(t *testing.T) {
	dir := t.TempDir()

	mgr := openTestManager(t, dir)
	apps, _ := appsDescriptor(3)
	if _, err := mgr.Get(apps); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	other := Descriptor{Name: "Other", New: func() (DAO, error) {
		return &testDAO{version: 1, upgrade: func(from int, c *Conn) error {
			_, err := c.Exec(`CREATE TABLE other (id INTEGER PRIMARY KEY)`)
			return err
		}}, nil
	}}
	if _, err := mgr.Get(other); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if err := mgr.Shutdown(); err != nil {
		t.Fatalf("shutdown returned error: %v", err)
	}

	mgr2 := openTestManager(t, dir)
	defer mgr2.Shutdown()

	versions := mgr2.Versions()
	if versions["Apps"] != 3 {
		t.Fatalf("expected Apps version 3, got %d", versions["Apps"])
	}
	if versions["Other"] != 1 {
		t.Fatalf("expected Other version 1, got %d", versions["Other"])
	}
	if versions["Unknown"] != 0 {
		t.Fatalf("expected unknown DAO to report 0, got %d", versions["Unknown"])
	}
}

func TestGetInstantiationError(t *testing.T) {
	mgr := openTestManager(t, t.TempDir())
	defer mgr.Shutdown()

	desc := Descriptor{Name: "Broken", New: func() (DAO, error) {
		return nil, fmt.Errorf("no such dao")
	}}
	_, err := mgr.Get(desc)
	if !errors.Is(err, ErrInstantiation) {
		t.Fatalf("expected ErrInstantiation, got %v", err)
	}

	nilFactory := Descriptor{Name: "Nil", New: func() (DAO, error) { return nil, nil }}
	if _, err := mgr.Get(nilFactory); !errors.Is(err, ErrInstantiation) {
		t.Fatalf("expected ErrInstantiation for nil instance, got %v", err)
	}
}

func TestCompatible(t *testing.T) {
	dir := t.TempDir()

	mgr := openTestManager(t, dir)
	newer, _ := appsDescriptor(3)
	if !mgr.Compatible(newer) {
		t.Fatal("expected compatible DAO to probe true")
	}
	if err := mgr.Shutdown(); err != nil {
		t.Fatalf("shutdown returned error: %v", err)
	}

	mgr2 := openTestManager(t, dir)
	defer mgr2.Shutdown()
	older, _ := appsDescriptor(2)
	if mgr2.Compatible(older) {
		t.Fatal("expected conflicting DAO to probe false")
	}
}

func TestManagersDoNotShareCache(t *testing.T) {
	dir := t.TempDir()

	mgr1 := openTestManager(t, dir)
	defer mgr1.Shutdown()

	desc1, dao1 := appsDescriptor(3)
	if _, err := mgr1.Get(desc1); err != nil {
		t.Fatalf("Get on first manager returned error: %v", err)
	}

	mgr2 := openTestManager(t, dir)
	defer mgr2.Shutdown()

	desc2, dao2 := appsDescriptor(3)
	got, err := mgr2.Get(desc2)
	if err != nil {
		t.Fatalf("Get on second manager returned error: %v", err)
	}
	if got == DAO(dao1) {
		t.Fatal("managers must not share cached instances")
	}
	if dao2.manager != mgr2 {
		t.Fatal("expected second instance bound to second manager")
	}
}
