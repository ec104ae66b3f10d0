package health

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SystemChecker checks basic process liveness.
type SystemChecker struct{}

func (c *SystemChecker) Name() string {
	return "system"
}

func (c *SystemChecker) Check(ctx context.Context) Check {
	return Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Status:    StatusHealthy,
		Message:   "process alive",
	}
}

// DatabaseChecker checks connectivity to the scheduler's job-state sqlite
// mirror (internal/jobstate).
type DatabaseChecker struct {
	dbPath string
}

func NewDatabaseChecker(dbPath string) *DatabaseChecker {
	return &DatabaseChecker{dbPath: dbPath}
}

func (c *DatabaseChecker) Name() string {
	return "jobstate"
}

func (c *DatabaseChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}

	if c.dbPath == "" {
		check.Status = StatusDegraded
		check.Message = "jobstate database path not configured"
		return check
	}

	if _, err := os.Stat(c.dbPath); os.IsNotExist(err) {
		check.Status = StatusHealthy
		check.Message = "jobstate database will be created on first use"
		check.Details["file_exists"] = false
		return check
	}

	db, err := sql.Open("sqlite3", c.dbPath)
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("failed to open jobstate database: %v", err)
		return check
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("jobstate database ping failed: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "jobstate database reachable"
	check.Details["file_exists"] = true

	return check
}

// StorageRootChecker checks that the CSV and image storage roots exist and
// are writable.
type StorageRootChecker struct {
	csvRoot   string
	imageRoot string
}

func NewStorageRootChecker(csvRoot, imageRoot string) *StorageRootChecker {
	return &StorageRootChecker{csvRoot: csvRoot, imageRoot: imageRoot}
}

func (c *StorageRootChecker) Name() string {
	return "storage"
}

func (c *StorageRootChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}

	if c.csvRoot != "" {
		if err := os.MkdirAll(c.csvRoot, 0o755); err != nil {
			check.Status = StatusUnhealthy
			check.Message = fmt.Sprintf("csv root unreachable: %v", err)
			return check
		}
		check.Details["csv_root"] = c.csvRoot
	}

	if c.imageRoot != "" {
		if err := os.MkdirAll(c.imageRoot, 0o755); err != nil {
			check.Status = StatusUnhealthy
			check.Message = fmt.Sprintf("image root unreachable: %v", err)
			return check
		}
		check.Details["image_root"] = c.imageRoot
	}

	check.Status = StatusHealthy
	check.Message = "storage roots accessible"
	return check
}

// BusChecker checks that a message-bus endpoint (internal/bus) accepts TCP
// connections, standing in for the source's socket liveness expectations.
type BusChecker struct {
	name string
	addr string
}

func NewBusChecker(name, addr string) *BusChecker {
	return &BusChecker{name: name, addr: addr}
}

func (c *BusChecker) Name() string {
	return c.name
}

func (c *BusChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   map[string]interface{}{"addr": c.addr},
	}

	if c.addr == "" {
		check.Status = StatusDegraded
		check.Message = "bus endpoint not configured"
		return check
	}

	d := net.Dialer{Timeout: 2 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("bus endpoint unreachable: %v", err)
		return check
	}
	conn.Close()

	check.Status = StatusHealthy
	check.Message = "bus endpoint reachable"
	return check
}
