package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"relgate/internal/compile"
	"relgate/internal/cost"
	"relgate/internal/cursor"
	"relgate/internal/dsl"
	"relgate/internal/engine"
	"relgate/internal/policy"
)

// Executor runs compiled statements against the store. It is the one
// boundary this gateway does not cross itself: with no executor
// configured, handlers return the compiled plan instead of rows.
type Executor interface {
	Query(ctx context.Context, stmt compile.Statement) ([]map[string]any, error)
	Exec(ctx context.Context, stmt compile.Statement) (int64, error)
}

// Handler wires the governance pipeline to HTTP: validate, compile,
// optionally execute, redact, paginate.
type Handler struct {
	engine    *engine.Engine
	policy    *policy.Policy
	compiler  *compile.Compiler
	cursors   *cursor.Encoder
	estimator *cost.Estimator
	tracker   *cost.Tracker
	executor  Executor
}

func NewHandler(eng *engine.Engine, pol *policy.Policy, comp *compile.Compiler, enc *cursor.Encoder, est *cost.Estimator, tracker *cost.Tracker, exec Executor) *Handler {
	return &Handler{
		engine:    eng,
		policy:    pol,
		compiler:  comp,
		cursors:   enc,
		estimator: est,
		tracker:   tracker,
		executor:  exec,
	}
}

// Register mounts the DSL routes behind the auth middleware.
func Register(app *fiber.App, h *Handler, authMW fiber.Handler) {
	api := app.Group("/dsl", authMW)
	api.Post("/query", h.Query)
	api.Post("/get", h.Get)
	api.Post("/aggregate", h.Aggregate)
	api.Post("/create", h.Create)
	api.Post("/update", h.Update)
	api.Post("/delete", h.Delete)
	api.Post("/bulk-update", h.BulkUpdate)
}

// planResponse is returned when no executor is configured: the caller
// gets the decision, the compiled statement and the cost estimate.
type planResponse struct {
	Decision  *engine.Decision  `json:"decision"`
	Statement compile.Statement `json:"statement"`
	Cost      *cost.Breakdown   `json:"cost,omitempty"`
	Warnings  []string          `json:"warnings,omitempty"`
}

func (h *Handler) Query(c *fiber.Ctx) error {
	var req dsl.QueryRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, engine.NewValidationError("malformed request body", nil))
	}

	runCtx := h.runContext(c)
	decision, err := h.engine.ValidateQuery(&req, runCtx)
	if err != nil {
		return respondError(c, err)
	}

	var cursorData *cursor.Data
	if req.Cursor != "" {
		cursorData, err = h.cursors.Decode(req.Cursor)
		if err != nil {
			return respondError(c, engine.NewValidationError("invalid pagination cursor", nil))
		}
	}

	stmt, err := h.compiler.BuildSelect(decision, &req, cursorData)
	if err != nil {
		return respondError(c, engine.InternalError(err))
	}

	merged := engine.MergeFilters(req.Where, decision.InjectedFilters)
	estimate := h.estimator.Estimate(&req, merged)

	if h.executor == nil {
		return c.JSON(planResponse{Decision: decision, Statement: stmt, Cost: &estimate})
	}

	start := time.Now()
	rows, err := h.executor.Query(c.UserContext(), stmt)
	if err != nil {
		return respondError(c, engine.AdapterError(err))
	}
	h.tracker.Record(req.Model, estimate, float64(time.Since(start).Milliseconds()), len(rows))

	redactor := engine.NewRedactor(h.policy)
	records := redactor.RedactRecords(rows, h.policy.GetModel(req.Model))

	result := dsl.QueryResult{Records: records, HasMore: len(rows) == req.Take}
	if len(rows) > 0 && len(req.OrderBy) > 0 {
		direction := cursor.DirectionForward
		if req.Backward {
			direction = cursor.DirectionBackward
		}
		next, err := h.cursors.EncodeKeyset(rows[len(rows)-1], req.OrderBy, direction)
		if err == nil {
			result.NextCursor = next
		}
	}
	return c.JSON(result)
}

func (h *Handler) Get(c *fiber.Ctx) error {
	var req dsl.GetRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, engine.NewValidationError("malformed request body", nil))
	}

	runCtx := h.runContext(c)
	decision, err := h.engine.ValidateGet(&req, runCtx)
	if err != nil {
		return respondError(c, err)
	}

	stmt, err := h.compiler.BuildGet(decision, &req)
	if err != nil {
		return respondError(c, engine.InternalError(err))
	}

	if h.executor == nil {
		return c.JSON(planResponse{Decision: decision, Statement: stmt})
	}

	rows, err := h.executor.Query(c.UserContext(), stmt)
	if err != nil {
		return respondError(c, engine.AdapterError(err))
	}
	if len(rows) == 0 {
		// Missing and out-of-scope rows are indistinguishable on purpose.
		return respondError(c, engine.NotFoundError(req.Model))
	}

	redactor := engine.NewRedactor(h.policy)
	return c.JSON(dsl.GetResult{Record: redactor.RedactRecord(rows[0], h.policy.GetModel(req.Model))})
}

func (h *Handler) Aggregate(c *fiber.Ctx) error {
	var req dsl.AggregateRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, engine.NewValidationError("malformed request body", nil))
	}

	runCtx := h.runContext(c)
	decision, err := h.engine.ValidateAggregate(&req, runCtx)
	if err != nil {
		return respondError(c, err)
	}

	stmt, err := h.compiler.BuildAggregate(decision, &req)
	if err != nil {
		return respondError(c, engine.InternalError(err))
	}

	merged := engine.MergeFilters(req.Where, decision.InjectedFilters)
	estimate := h.estimator.EstimateAggregate(&req, merged)

	if h.executor == nil {
		return c.JSON(planResponse{Decision: decision, Statement: stmt, Cost: &estimate})
	}

	rows, err := h.executor.Query(c.UserContext(), stmt)
	if err != nil {
		return respondError(c, engine.AdapterError(err))
	}

	result := dsl.AggregateResult{Op: req.Op, Field: req.Field}
	if req.GroupBy != "" {
		result.Groups = rows
	} else if len(rows) > 0 {
		result.Value = rows[0]["value"]
	}
	return c.JSON(result)
}

func (h *Handler) Create(c *fiber.Ctx) error {
	var req dsl.CreateRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, engine.NewValidationError("malformed request body", nil))
	}

	runCtx := h.runContext(c)
	decision, err := h.engine.ValidateCreate(&req, runCtx)
	if err != nil {
		return respondError(c, err)
	}

	stmt, err := h.compiler.BuildInsert(decision, &req)
	if err != nil {
		return respondError(c, engine.InternalError(err))
	}

	if h.executor == nil {
		return c.JSON(planResponse{Decision: decision, Statement: stmt})
	}

	rows, err := h.executor.Query(c.UserContext(), stmt)
	if err != nil {
		return respondError(c, engine.AdapterError(err))
	}

	var record map[string]any
	if len(rows) > 0 {
		redactor := engine.NewRedactor(h.policy)
		record = redactor.RedactRecord(rows[0], h.policy.GetModel(req.Model))
	}
	return c.Status(201).JSON(dsl.CreateResult{Record: record})
}

func (h *Handler) Update(c *fiber.Ctx) error {
	var req dsl.UpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, engine.NewValidationError("malformed request body", nil))
	}

	runCtx := h.runContext(c)
	decision, err := h.engine.ValidateUpdate(&req, runCtx)
	if err != nil {
		return respondError(c, err)
	}

	stmt, err := h.compiler.BuildUpdate(decision, &req)
	if err != nil {
		return respondError(c, engine.InternalError(err))
	}

	if h.executor == nil {
		return c.JSON(planResponse{Decision: decision, Statement: stmt})
	}

	rows, err := h.executor.Query(c.UserContext(), stmt)
	if err != nil {
		return respondError(c, engine.AdapterError(err))
	}
	if len(rows) == 0 {
		return respondError(c, engine.NotFoundError(req.Model))
	}

	redactor := engine.NewRedactor(h.policy)
	return c.JSON(dsl.UpdateResult{Record: redactor.RedactRecord(rows[0], h.policy.GetModel(req.Model))})
}

func (h *Handler) Delete(c *fiber.Ctx) error {
	var req dsl.DeleteRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, engine.NewValidationError("malformed request body", nil))
	}

	runCtx := h.runContext(c)
	decision, err := h.engine.ValidateDelete(&req, runCtx)
	if err != nil {
		return respondError(c, err)
	}

	softField := ""
	if rp := h.policy.EffectiveRowPolicy(h.policy.GetModel(req.Model)); rp != nil {
		softField = rp.SoftDeleteField
	}

	stmt, err := h.compiler.BuildDelete(decision, &req, softField, runCtx.Now)
	if err != nil {
		return respondError(c, engine.InternalError(err))
	}

	if h.executor == nil {
		return c.JSON(planResponse{Decision: decision, Statement: stmt})
	}

	affected, err := h.executor.Exec(c.UserContext(), stmt)
	if err != nil {
		return respondError(c, engine.AdapterError(err))
	}
	if affected == 0 {
		return respondError(c, engine.NotFoundError(req.Model))
	}
	return c.JSON(dsl.DeleteResult{ID: req.ID, Soft: softField != "" && !req.Hard})
}

func (h *Handler) BulkUpdate(c *fiber.Ctx) error {
	var req dsl.BulkUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, engine.NewValidationError("malformed request body", nil))
	}

	runCtx := h.runContext(c)
	decision, err := h.engine.ValidateBulkUpdate(&req, runCtx)
	if err != nil {
		return respondError(c, err)
	}

	stmt, err := h.compiler.BuildBulkUpdate(decision, &req)
	if err != nil {
		return respondError(c, engine.InternalError(err))
	}

	if h.executor == nil {
		return c.JSON(planResponse{Decision: decision, Statement: stmt})
	}

	affected, err := h.executor.Exec(c.UserContext(), stmt)
	if err != nil {
		return respondError(c, engine.AdapterError(err))
	}
	return c.JSON(dsl.BulkUpdateResult{Affected: int(affected)})
}

// runContext builds the immutable per-call context from the
// authenticated principal.
func (h *Handler) runContext(c *fiber.Ctx) dsl.RunContext {
	p := GetPrincipal(c)
	if p == nil {
		p = &dsl.Principal{}
	}
	ctx := dsl.NewRunContext(*p, nil)
	if trace := c.Get("X-Trace-ID"); trace != "" {
		ctx.TraceID = trace
	}
	return ctx
}

func respondError(c *fiber.Ctx, err error) error {
	if pe, ok := engine.AsPolicyError(err); ok {
		status := pe.Status
		if status == 0 {
			status = 500
		}
		return c.Status(status).JSON(engine.ErrorResponse{Error: pe})
	}
	return c.Status(500).JSON(engine.ErrorResponse{Error: engine.InternalError(err)})
}
