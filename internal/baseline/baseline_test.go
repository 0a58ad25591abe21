package baseline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

func writeMigrations(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"1_items.up.sql":   "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT);",
		"1_items.down.sql": "DROP TABLE items;",
		"2_seed.up.sql":    "INSERT INTO items (id, name) VALUES (1, 'seed');",
		"2_seed.down.sql":  "DELETE FROM items WHERE id = 1;",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func countItems(t *testing.T, path string) int {
	t.Helper()
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	var n int
	if err := db.Get(&n, `SELECT COUNT(*) FROM items`); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	migrations := writeMigrations(t)
	dbPath := filepath.Join(t.TempDir(), "target.db")

	if err := Reset(ctx, "sqlite", dbPath, migrations, nil); err != nil {
		t.Fatalf("first Reset: %v", err)
	}
	if got := countItems(t, dbPath); got != 1 {
		t.Fatalf("rows after first reset = %d, want 1", got)
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.MustExec(`INSERT INTO items (id, name) VALUES (2, 'replayed'), (3, 'replayed')`)
	db.Close()

	if err := Reset(ctx, "sqlite", dbPath, migrations, nil); err != nil {
		t.Fatalf("second Reset: %v", err)
	}
	if got := countItems(t, dbPath); got != 1 {
		t.Errorf("rows after second reset = %d, want 1", got)
	}
}

func TestReset_MissingDir(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "target.db")
	if err := Reset(context.Background(), "sqlite", dbPath, filepath.Join(t.TempDir(), "nope"), nil); err == nil {
		t.Error("Reset error = nil, want error")
	}
}

func TestDatabaseURL(t *testing.T) {
	tests := []struct {
		driver  string
		dsn     string
		want    string
		wantErr bool
	}{
		{driver: "pgx", dsn: "postgres://u:p@db:5432/bench?sslmode=disable", want: "pgx5://u:p@db:5432/bench?sslmode=disable"},
		{driver: "postgres", dsn: "postgresql://db/bench", want: "pgx5://db/bench"},
		{driver: "pgx", dsn: "host=db user=u", wantErr: true},
		{driver: "pgx", dsn: "mysql://db/bench", wantErr: true},
		{driver: "sqlite", dsn: "/var/lib/bench.db", want: "sqlite:///var/lib/bench.db"},
		{driver: "sqlite", dsn: "file:/var/lib/bench.db?_pragma=foreign_keys(1)", want: "sqlite:///var/lib/bench.db"},
		{driver: "oracle", dsn: "x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.driver+" "+tt.dsn, func(t *testing.T) {
			got, err := DatabaseURL(tt.driver, tt.dsn)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DatabaseURL error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("DatabaseURL = %q, want %q", got, tt.want)
			}
		})
	}
}
