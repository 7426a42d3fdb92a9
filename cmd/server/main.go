package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"relgate/internal/compile"
	"relgate/internal/config"
	"relgate/internal/cost"
	"relgate/internal/cursor"
	"relgate/internal/engine"
	"relgate/internal/policy"
	"relgate/internal/schema"
	"relgate/internal/server"
)

func main() {
	ctx := context.Background()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (port: %d, db: %s)", cfg.Server.Port, cfg.Database.Driver)

	// 2. Connect and introspect the schema once; from here on it is
	// read-only input to the engine.
	db, err := sql.Open(cfg.Database.DriverName(), cfg.Database.DSN())
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	if cfg.Database.PoolSize > 0 {
		db.SetMaxOpenConns(cfg.Database.PoolSize)
	}
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	intro, err := schema.NewIntrospector(cfg.Database.Driver)
	if err != nil {
		log.Fatalf("Failed to pick introspector: %v", err)
	}
	meta, err := intro.Introspect(ctx, db)
	if err != nil {
		log.Fatalf("Failed to introspect schema: %v", err)
	}
	log.Printf("Schema introspected: %d models", len(meta.Models))

	// 3. Load the policy document
	pol, err := policy.LoadFile(cfg.PolicyPath)
	if err != nil {
		log.Fatalf("Failed to load policy: %v", err)
	}
	log.Printf("Policy loaded: %d models governed", len(pol.Models))

	// 4. Assemble the governance pipeline
	cursors := cursor.NewEncoder(cfg.CursorSecret)
	eng := engine.New(pol, meta, engine.WithCursorEncoder(cursors))

	dialect := cfg.Database.Driver
	if dialect == "" {
		dialect = "postgres"
	}
	compiler, err := compile.New(dialect, meta)
	if err != nil {
		log.Fatalf("Failed to build compiler: %v", err)
	}

	estimator := cost.NewEstimator(statsFromSchema(meta), cost.DefaultWeights())
	tracker := cost.NewTracker()

	// 5. Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// 6. DSL routes. No executor is wired here: the gateway validates,
	// compiles and estimates; the embedding system supplies execution.
	authMW := server.AuthMiddleware(cfg.JWTSecret, cfg.APIKeyHashes)
	handler := server.NewHandler(eng, pol, compiler, cursors, estimator, tracker, nil)
	server.Register(app, handler, authMW)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Starting server on %s", addr)
	log.Fatal(app.Listen(addr))
}

// statsFromSchema seeds the estimator with index information from the
// introspected schema; row counts stay at defaults until the operator
// supplies real statistics.
func statsFromSchema(meta *schema.Metadata) map[string]cost.TableStats {
	stats := make(map[string]cost.TableStats, len(meta.Models))
	for name, model := range meta.Models {
		s := cost.DefaultStats(model.TableName)
		s.PrimaryKey = model.PrimaryKey
		for fname, f := range model.Fields {
			if f.Indexed {
				s.IndexedColumns = append(s.IndexedColumns, fname)
			}
		}
		stats[name] = s
	}
	return stats
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}

	if pe, ok := engine.AsPolicyError(err); ok {
		status := pe.Status
		if status == 0 {
			status = code
		}
		return c.Status(status).JSON(engine.ErrorResponse{Error: pe})
	}

	log.Printf("ERROR: %v", err)
	return c.Status(code).JSON(engine.ErrorResponse{
		Error: &engine.PolicyError{
			Code:    engine.CodeInternalError,
			Message: "Internal server error",
		},
	})
}
