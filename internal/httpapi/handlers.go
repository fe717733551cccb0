package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mesh-intelligence/memorykit/internal/extract"
	"github.com/mesh-intelligence/memorykit/internal/retrieval"
	"github.com/mesh-intelligence/memorykit/internal/settings"
	"github.com/mesh-intelligence/memorykit/pkg/types"
)

// Retriever answers ingest and query requests.
type Retriever interface {
	Ingest(ctx context.Context, req retrieval.IngestRequest) (*extract.Result, error)
	Query(ctx context.Context, req retrieval.QueryRequest) (*retrieval.QueryResponse, error)
}

// Settings reads and writes runtime settings.
type Settings interface {
	GetAll(ctx context.Context) (map[string]any, error)
	Set(ctx context.Context, key string, value any) error
	Export(ctx context.Context) (settings.Export, error)
	Import(ctx context.Context, data []byte) (int, error)
	SetTimeMode(ctx context.Context, mode string) error
	TimeModeSettings(ctx context.Context) (settings.TimeModeSettings, error)
	TruncateAttribute(ctx context.Context, attributeType, value string, ellipsis bool) (string, error)
}

// Schema lists object types.
type Schema interface {
	Types(ctx context.Context) ([]*types.ObjectType, error)
}

// Reviewer lists, applies and rejects diffs.
type Reviewer interface {
	List(ctx context.Context, status string) ([]*types.Diff, error)
	Apply(ctx context.Context, id string) (*types.Diff, error)
	Reject(ctx context.Context, id string) (*types.Diff, error)
}

// Handler serves the API routes.
type Handler struct {
	retrieval Retriever
	settings  Settings
	schema    Schema
	review    Reviewer
}

// NewHandler creates a Handler.
func NewHandler(r Retriever, s Settings, sch Schema, rv Reviewer) *Handler {
	return &Handler{retrieval: r, settings: s, schema: sch, review: rv}
}

// GET /healthz
func (h *Handler) Health(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// POST /v1/ingest
func (h *Handler) Ingest(c *gin.Context) {
	var req retrieval.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, CodeValidation, err)
		return
	}
	res, err := h.retrieval.Ingest(c.Request.Context(), req)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, res)
}

// POST /v1/query
func (h *Handler) Query(c *gin.Context) {
	var req retrieval.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, CodeValidation, err)
		return
	}
	resp, err := h.retrieval.Query(c.Request.Context(), req)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, resp)
}

// GET /v1/types
func (h *Handler) ListTypes(c *gin.Context) {
	all, err := h.schema.Types(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, gin.H{"types": all})
}

// GET /v1/settings
func (h *Handler) ListSettings(c *gin.Context) {
	all, err := h.settings.GetAll(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, gin.H{"settings": all})
}

type setSettingBody struct {
	Value json.RawMessage `json:"value"`
}

// PUT /v1/settings/:key
func (h *Handler) SetSetting(c *gin.Context) {
	key := c.Param("key")
	var body setSettingBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, CodeValidation, err)
		return
	}
	if len(body.Value) == 0 {
		respondErr(c, fmt.Errorf("setting %q: value is required: %w", key, types.ErrValidation))
		return
	}
	if err := h.settings.Set(c.Request.Context(), key, body.Value); err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, gin.H{"key": key, "updated": true})
}

// GET /v1/settings/export
func (h *Handler) ExportSettings(c *gin.Context) {
	exp, err := h.settings.Export(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, exp)
}

// POST /v1/settings/import
func (h *Handler) ImportSettings(c *gin.Context) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondError(c, http.StatusBadRequest, CodeValidation, err)
		return
	}
	n, err := h.settings.Import(c.Request.Context(), data)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, gin.H{"imported": n})
}

type timeModeBody struct {
	Mode string `json:"mode" binding:"required"`
}

// PUT /v1/settings/time-mode
func (h *Handler) SetTimeMode(c *gin.Context) {
	var body timeModeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, CodeValidation, err)
		return
	}
	ctx := c.Request.Context()
	if err := h.settings.SetTimeMode(ctx, body.Mode); err != nil {
		respondErr(c, err)
		return
	}
	tm, err := h.settings.TimeModeSettings(ctx)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, tm)
}

type truncateBody struct {
	Class    string `json:"class" binding:"required"`
	Value    string `json:"value"`
	Ellipsis *bool  `json:"ellipsis"`
}

// POST /v1/settings/truncate
//
// The ellipsis is appended unless the body sets "ellipsis": false.
func (h *Handler) TruncateSetting(c *gin.Context) {
	var body truncateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, CodeValidation, err)
		return
	}
	ellipsis := body.Ellipsis == nil || *body.Ellipsis
	out, err := h.settings.TruncateAttribute(c.Request.Context(), body.Class, body.Value, ellipsis)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, gin.H{"value": out, "truncated": out != body.Value})
}

// GET /v1/diffs?status=
func (h *Handler) ListDiffs(c *gin.Context) {
	diffs, err := h.review.List(c.Request.Context(), c.Query("status"))
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, gin.H{"diffs": diffs})
}

// POST /v1/diffs/:id/apply
func (h *Handler) ApplyDiff(c *gin.Context) {
	d, err := h.review.Apply(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, d)
}

// POST /v1/diffs/:id/reject
func (h *Handler) RejectDiff(c *gin.Context) {
	d, err := h.review.Reject(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, d)
}
