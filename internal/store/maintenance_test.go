package store

import "testing"

func TestMaintenanceOpsOnLiveStore(t *testing.T) {
	mgr := openTestManager(t, t.TempDir())
	defer mgr.Shutdown()

	// Migrate a DAO and write a row so maintenance runs against real state.
	desc, _ := appsDescriptor(3)
	if _, err := mgr.Get(desc); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	c, err := mgr.Connect()
	if err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	if _, err := c.Exec(`INSERT INTO apps (name) VALUES ('alpha')`); err != nil {
		t.Fatalf("insert returned error: %v", err)
	}
	mgr.Disconnect(c)

	if err := mgr.Optimize(); err != nil {
		t.Fatalf("Optimize returned error: %v", err)
	}
	if err := mgr.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint returned error: %v", err)
	}
	if err := mgr.Vacuum(); err != nil {
		t.Fatalf("Vacuum returned error: %v", err)
	}

	// The store is still usable afterwards.
	c2, err := mgr.Connect()
	if err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	defer mgr.Disconnect(c2)
	var count int
	if err := c2.QueryRow(`SELECT COUNT(*) FROM apps`).Scan(&count); err != nil {
		t.Fatalf("count query returned error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected data to survive maintenance, got %d rows", count)
	}
}
