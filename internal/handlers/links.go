// Package handlers exposes links over HTTP.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/shortlink/internal/shortener"
	"go.uber.org/zap"
)

// LinkService is the application surface the handlers call into.
type LinkService interface {
	Resolve(ctx context.Context, code string) (string, error)
	Create(ctx context.Context, destination, code string) (*shortener.Link, error)
	Get(ctx context.Context, code string) (*shortener.Link, error)
	List(ctx context.Context) ([]*shortener.Link, error)
	Delete(ctx context.Context, code string) error
}

// reservedCodes would be shadowed by fixed routes.
var reservedCodes = map[string]struct{}{
	"health":  {},
	"metrics": {},
}

// LinkHandler handles link management and redirects.
type LinkHandler struct {
	links   LinkService
	baseURL string
	logger  *zap.Logger
}

func NewLinkHandler(links LinkService, baseURL string, logger *zap.Logger) *LinkHandler {
	return &LinkHandler{
		links:   links,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

func (h *LinkHandler) CreateLink(ctx context.Context, req *CreateLinkRequest) (*CreateLinkResponse, error) {
	if _, reserved := reservedCodes[req.Body.Code]; reserved {
		return nil, huma.Error400BadRequest("code is reserved")
	}

	link, err := h.links.Create(ctx, req.Body.URL, req.Body.Code)
	if err != nil {
		return nil, h.toHTTPError(err, "failed to create link")
	}

	resp := &CreateLinkResponse{Body: h.toBody(link)}
	resp.Location = resp.Body.ShortURL

	return resp, nil
}

func (h *LinkHandler) ListLinks(ctx context.Context, _ *struct{}) (*ListLinksResponse, error) {
	links, err := h.links.List(ctx)
	if err != nil {
		return nil, h.toHTTPError(err, "failed to list links")
	}

	resp := &ListLinksResponse{Body: make([]LinkBody, 0, len(links))}
	for _, link := range links {
		resp.Body = append(resp.Body, h.toBody(link))
	}

	return resp, nil
}

func (h *LinkHandler) GetLink(ctx context.Context, req *CodeRequest) (*GetLinkResponse, error) {
	link, err := h.links.Get(ctx, req.Code)
	if err != nil {
		return nil, h.toHTTPError(err, "failed to get link")
	}

	return &GetLinkResponse{Body: h.toBody(link)}, nil
}

func (h *LinkHandler) DeleteLink(ctx context.Context, req *CodeRequest) (*struct{}, error) {
	if err := h.links.Delete(ctx, req.Code); err != nil {
		return nil, h.toHTTPError(err, "failed to delete link")
	}

	return nil, nil //nolint:nilnil // 204 has no body
}

func (h *LinkHandler) Redirect(ctx context.Context, req *CodeRequest) (*RedirectResponse, error) {
	destination, err := h.links.Resolve(ctx, req.Code)
	if err != nil {
		return nil, h.toHTTPError(err, "failed to resolve link")
	}

	return &RedirectResponse{
		Status:       http.StatusFound,
		Location:     destination,
		CacheControl: "no-store",
	}, nil
}

func (h *LinkHandler) toBody(link *shortener.Link) LinkBody {
	return LinkBody{
		ID:          link.ID,
		Code:        string(link.Code),
		URL:         link.Destination,
		ShortURL:    h.baseURL + "/" + string(link.Code),
		Clicks:      link.ClickCount,
		LastClicked: link.LastAccessedAt,
		CreatedAt:   link.CreatedAt,
	}
}

func (h *LinkHandler) toHTTPError(err error, msg string) error {
	switch {
	case errors.Is(err, shortener.ErrInvalidArgument):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, shortener.ErrConflict):
		return huma.Error409Conflict("code already exists")
	case errors.Is(err, shortener.ErrNotFound):
		return huma.Error404NotFound("link not found")
	default:
		h.logger.Error(msg, zap.Error(err))

		return huma.Error500InternalServerError(msg)
	}
}
