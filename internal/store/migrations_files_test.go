package store

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

const testMigrationsDir = "../../db/migrations"

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	entries, err := os.ReadDir(testMigrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		version := match[1]
		direction := match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		if byVersion[version][direction] {
			t.Fatalf("duplicate %s migration file for version %s", direction, version)
		}
		byVersion[version][direction] = true
	}

	if len(byVersion) == 0 {
		t.Fatal("no migrations discovered")
	}

	for version, dirs := range byVersion {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}

func TestReadMigrationDirPairsFiles(t *testing.T) {
	migrations, err := readMigrationDir(testMigrationsDir)
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	if len(migrations) < 3 {
		t.Fatalf("expected at least 3 migrations, got %d", len(migrations))
	}
	for i, migration := range migrations {
		if migration.DownPath == "" {
			t.Fatalf("migration %s has no down file", migration.Version)
		}
		if i > 0 && migrations[i-1].Version >= migration.Version {
			t.Fatalf("migrations out of order: %s before %s", migrations[i-1].Version, migration.Version)
		}
	}
}

func TestWorkflowSchemaEnforcesJurisdictionUniqueness(t *testing.T) {
	sqlBytes, err := os.ReadFile(filepath.Join(testMigrationsDir, "0001_workflow_schema.up.sql"))
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sqlText := string(sqlBytes)

	expectedSnippets := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS " + ConstraintApproverJurisdiction,
		"LOWER(BTRIM(district)), LOWER(BTRIM(sector))",
		"WHERE role = 'approver'",
		"CHECK (end_date >= start_date)",
		"CHECK (estimated_quantity_kg > 0)",
	}
	for _, snippet := range expectedSnippets {
		if !strings.Contains(sqlText, snippet) {
			t.Fatalf("expected migration to contain %q", snippet)
		}
	}
}

func TestWorkflowSchemaGuardsAddedConstraints(t *testing.T) {
	sqlBytes, err := os.ReadFile(filepath.Join(testMigrationsDir, "0001_workflow_schema.up.sql"))
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sqlText := string(sqlBytes)

	adds := regexp.MustCompile(`ADD CONSTRAINT (\w+)`).FindAllStringSubmatch(sqlText, -1)
	if len(adds) == 0 {
		t.Fatal("expected at least one added constraint")
	}
	for _, add := range adds {
		guard := "WHERE conname = '" + add[1] + "'"
		if !strings.Contains(sqlText, guard) {
			t.Fatalf("constraint %s is added without a pg_constraint guard", add[1])
		}
	}
}

func TestTelemetryAppendOnlyMigrationUsesBlockingTriggers(t *testing.T) {
	sqlBytes, err := os.ReadFile(filepath.Join(testMigrationsDir, "0003_telemetry_append_only_trigger.up.sql"))
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sqlText := string(sqlBytes)

	expectedSnippets := []string{
		"telemetry_append_only_guard",
		"RAISE EXCEPTION",
		"CREATE TRIGGER trg_sensor_readings_block_update",
		"CREATE TRIGGER trg_alerts_block_update",
	}
	for _, snippet := range expectedSnippets {
		if !strings.Contains(sqlText, snippet) {
			t.Fatalf("expected migration to contain %q", snippet)
		}
	}
	if strings.Contains(sqlText, "DO INSTEAD NOTHING") {
		t.Fatalf("expected hard-fail guard, found silent DO INSTEAD NOTHING rule")
	}
}

func TestTelemetrySchemaNamesSerialConstraint(t *testing.T) {
	sqlBytes, err := os.ReadFile(filepath.Join(testMigrationsDir, "0002_telemetry.up.sql"))
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	if !strings.Contains(string(sqlBytes), "CONSTRAINT "+ConstraintSensorSerial+" UNIQUE (serial_number)") {
		t.Fatalf("expected named unique constraint %s", ConstraintSensorSerial)
	}
}
