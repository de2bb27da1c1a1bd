package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NahidDesigner/ai-prd-creator/internal/apperr"
	"github.com/NahidDesigner/ai-prd-creator/internal/auth"
	"github.com/NahidDesigner/ai-prd-creator/internal/generator"
	"github.com/NahidDesigner/ai-prd-creator/internal/storage"
)

type prdView struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Requirements string    `json:"requirements"`
	Platform     string    `json:"platform"`
	Content      string    `json:"content,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func toView(p storage.PRD, withContent bool) prdView {
	v := prdView{
		ID:           p.ID,
		Title:        p.Title,
		Requirements: p.Requirements,
		Platform:     p.Platform,
		CreatedAt:    p.CreatedAt,
	}
	if withContent {
		v.Content = p.Content
	}
	return v
}

func (a *api) generate(c *gin.Context) {
	var req generator.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Validation("Request body must be JSON"))
		return
	}
	caller, _ := auth.CallerFrom(c)
	req.OwnerID = caller.UserID

	sink := newStreamSink(c)
	res, err := a.gen.Generate(c.Request.Context(), req, sink)
	a.finish(c, sink, res, err)
}

func (a *api) refine(c *gin.Context) {
	var req generator.RefineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Validation("Request body must be JSON"))
		return
	}
	caller, _ := auth.CallerFrom(c)
	req.OwnerID = caller.UserID

	sink := newStreamSink(c)
	res, err := a.gen.Refine(c.Request.Context(), req, sink)
	a.finish(c, sink, res, err)
}

// finish reports the outcome as JSON when nothing was streamed yet and as
// trailing control frames otherwise.
func (a *api) finish(c *gin.Context, sink *streamSink, res generator.Result, err error) {
	if !sink.started {
		if err == nil {
			// The provider produced an empty stream before Reset could run.
			err = errors.New("stream ended before it started")
		}
		writeError(c, err)
		return
	}
	if err != nil {
		if c.Request.Context().Err() != nil {
			return
		}
		_ = c.Error(err)
		_ = sink.w.Event(controlFrame{
			Event: "error",
			Error: apperr.UserMessage(err),
			Kind:  string(apperr.KindOf(err)),
		})
		_ = sink.w.Done()
		return
	}
	if res.PRD != nil {
		v := toView(*res.PRD, false)
		_ = sink.w.Event(controlFrame{Event: "saved", PRD: &v})
	}
	_ = sink.w.Done()
}

func (a *api) listPRDs(c *gin.Context) {
	caller, _ := auth.CallerFrom(c)
	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit > 200 {
		limit = 200
	}
	prds, err := a.prds.ListPRDsByOwner(c.Request.Context(), caller.UserID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]prdView, 0, len(prds))
	for _, p := range prds {
		out = append(out, toView(p, false))
	}
	c.JSON(http.StatusOK, gin.H{"prds": out})
}

func (a *api) getPRD(c *gin.Context) {
	caller, _ := auth.CallerFrom(c)
	p, err := a.prds.GetPRD(c.Request.Context(), c.Param("id"))
	if err != nil || (p.OwnerID != caller.UserID && !caller.IsAdmin) {
		if err == nil || errors.Is(err, storage.ErrNotFound) {
			err = apperr.NotFound("PRD not found")
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toView(p, true))
}

func (a *api) deletePRD(c *gin.Context) {
	caller, _ := auth.CallerFrom(c)
	owner := caller.UserID
	if caller.IsAdmin {
		owner = ""
	}
	if err := a.prds.DeletePRD(c.Request.Context(), c.Param("id"), owner); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			err = apperr.NotFound("PRD not found")
		}
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
