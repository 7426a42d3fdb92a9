package config

import "testing"

func TestDSN(t *testing.T) {
	pg := DatabaseConfig{
		Driver: "postgres", Host: "db.internal", Port: 5432,
		User: "gate", Password: "pw", Name: "app",
	}
	want := "postgres://gate:pw@db.internal:5432/app?sslmode=disable"
	if got := pg.DSN(); got != want {
		t.Fatalf("postgres dsn: %q", got)
	}

	lite := DatabaseConfig{Driver: "sqlite", Path: "./data", Name: "app"}
	if got := lite.DSN(); got != "./data/app.db" {
		t.Fatalf("sqlite dsn: %q", got)
	}
}

func TestDriverName(t *testing.T) {
	if got := (DatabaseConfig{Driver: "sqlite"}).DriverName(); got != "sqlite" {
		t.Fatalf("sqlite driver: %q", got)
	}
	if got := (DatabaseConfig{Driver: "postgres"}).DriverName(); got != "pgx" {
		t.Fatalf("postgres driver: %q", got)
	}
}
