// Package adminapi is the coordinator's admin/observability HTTP surface: a small gin-gonic
// server exposing coordinator status, recovery stats, an out-of-band recovery trigger, and a
// CEL-filterable dangling-record snapshot.
package adminapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/sharedcode/xacoord/internal/journal"
	"github.com/sharedcode/xacoord/internal/recovery"
	"github.com/sharedcode/xacoord/internal/registry"
)

// Manager is the subset of txmanager.Manager this surface depends on.
type Manager interface {
	Registry() *registry.Registry
	Recoverer() *recovery.Recoverer
}

// DanglingSource is the journal surface the /journal/dangling endpoint scans.
type DanglingSource interface {
	CollectDanglingRecords() ([]journal.Record, error)
}

// Config controls auth gating of the admin routes and the default dangling-record filter.
type Config struct {
	AuthEnabled bool
	OktaIssuer  string
	OktaAud     string

	// DefaultFilter is the CEL expression applied to /journal/dangling when the request carries
	// no filter query parameter (the FilterLogStatus configuration knob).
	DefaultFilter string
}

// New builds the gin engine. Routes are unguarded unless cfg.AuthEnabled is set, matching the
// default embedded/library use case.
func New(cfg Config, mgr Manager, log DanglingSource) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))

	group := r.Group("/")
	if cfg.AuthEnabled {
		group.Use(authMiddleware(cfg.OktaIssuer, cfg.OktaAud))
	}

	group.GET("/status", statusHandler(mgr))
	group.GET("/recovery/stats", recoveryStatsHandler(mgr))
	group.POST("/recovery/run", recoveryRunHandler(mgr))
	group.GET("/journal/dangling", danglingHandler(log, cfg.DefaultFilter))

	return r
}

// statusHandler godoc
// @Summary      Coordinator status
// @Description  Registered resources and each resource's failed flag. No transaction count is reported.
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /status [get]
func statusHandler(mgr Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		producers := mgr.Registry().All()
		resources := make([]gin.H, 0, len(producers))
		for _, p := range producers {
			resources = append(resources, gin.H{
				"uniqueName": p.UniqueName(),
				"failed":     mgr.Registry().IsFailed(p.UniqueName()),
			})
		}
		c.JSON(http.StatusOK, gin.H{"resources": resources})
	}
}

// recoveryStatsHandler godoc
// @Summary      Recovery counters
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /recovery/stats [get]
func recoveryStatsHandler(mgr Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		committed, rolledback := mgr.Recoverer().Counters()
		c.JSON(http.StatusOK, gin.H{
			"committedCount":  committed,
			"rolledbackCount": rolledback,
		})
	}
}

// recoveryRunHandler godoc
// @Summary      Trigger an out-of-band full recovery pass
// @Description  Coalesced with any concurrently running scan via the singleflight guard.
// @Produce      json
// @Success      200  {object}  recovery.Result
// @Router       /recovery/run [post]
func recoveryRunHandler(mgr Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
		defer cancel()
		result, err := mgr.Recoverer().RunFull(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// danglingRecord is the JSON rendering of a journal.Record (the record's Gtrid is an opaque
// binary Uid, rendered through its string form here).
type danglingRecord struct {
	Status      string   `json:"status"`
	Gtrid       string   `json:"gtrid"`
	UniqueNames []string `json:"uniqueNames"`
	TimestampMs int64    `json:"timestampMs"`
}

// danglingHandler godoc
// @Summary      Dangling (in-doubt) journal records
// @Description  Optionally filtered by a `filter` query param evaluated as a CEL expression
// @Produce      json
// @Param        filter  query  string  false  "CEL expression over status/gtrid/uniqueNames/timestampMs"
// @Success      200  {array}  adminapi.danglingRecord
// @Router       /journal/dangling [get]
func danglingHandler(log DanglingSource, defaultFilter string) gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := log.CollectDanglingRecords()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		expr := c.Query("filter")
		if expr == "" {
			expr = defaultFilter
		}
		filtered, err := filterRecords(expr, records)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		out := make([]danglingRecord, 0, len(filtered))
		for _, rec := range filtered {
			out = append(out, danglingRecord{
				Status:      rec.Status.String(),
				Gtrid:       rec.Gtrid.String(),
				UniqueNames: rec.UniqueNames,
				TimestampMs: rec.TimestampMs,
			})
		}
		c.JSON(http.StatusOK, out)
	}
}

func filterRecords(expr string, records []journal.Record) ([]journal.Record, error) {
	if expr == "" {
		return records, nil
	}
	prg, err := compileFilter(expr)
	if err != nil {
		return nil, err
	}
	out := make([]journal.Record, 0, len(records))
	for _, rec := range records {
		ok, err := matchesFilter(prg, rec)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}
