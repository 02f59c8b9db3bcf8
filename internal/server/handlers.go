package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"aichat/internal/core"
	"aichat/internal/graph"
	"aichat/internal/sse"
)

// Handler holds the HTTP handlers
type Handler struct {
	schema          *graph.Schema
	environment     string
	graphiqlEnabled bool
}

// NewHandler creates the handlers for schema.
func NewHandler(schema *graph.Schema, environment string, graphiqlEnabled bool) *Handler {
	if environment == "" {
		environment = "unknown"
	}
	return &Handler{
		schema:          schema,
		environment:     environment,
		graphiqlEnabled: graphiqlEnabled,
	}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	Environment string `json:"environment"`
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now().UTC().Format(core.TimestampFormat),
		Environment: h.environment,
	})
}

// GraphQL handles GET and POST /graphql for queries and mutations. A
// browser asking for HTML without a query gets the GraphiQL explorer.
func (h *Handler) GraphQL(c echo.Context) error {
	r := c.Request()
	if r.Method == http.MethodGet && h.graphiqlEnabled && acceptsHTML(r) && c.QueryParam("query") == "" {
		c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
		c.Response().WriteHeader(http.StatusOK)
		return graph.RenderGraphiQL(c.Response().Writer, GraphQLPath)
	}

	req, err := bindRequest(c)
	if err != nil {
		return err
	}
	if graph.IsSubscription(req) {
		return echo.NewHTTPError(http.StatusBadRequest, "subscriptions are served over SSE at "+GraphQLStreamPath)
	}

	return c.JSON(http.StatusOK, h.schema.Exec(r.Context(), req))
}

// GraphQLStream handles GET and POST /graphql/stream. Each subscription
// result is sent as an SSE "next" event and the end as a "complete" event.
func (h *Handler) GraphQLStream(c echo.Context) error {
	req, err := bindRequest(c)
	if err != nil {
		return err
	}
	if !graph.IsSubscription(req) {
		return echo.NewHTTPError(http.StatusBadRequest, "only subscriptions are served at "+GraphQLStreamPath)
	}

	ctx := c.Request().Context()
	results, err := h.schema.Subscribe(ctx, req)
	if err != nil {
		return err
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	for {
		select {
		case <-ctx.Done():
			return nil
		case v, ok := <-results:
			if !ok {
				if err := sse.WriteEvent(w, sse.Event{Name: "complete"}); err != nil {
					return nil
				}
				w.Flush()
				return nil
			}
			data, err := json.Marshal(v)
			if err != nil {
				slog.Error("failed to encode subscription result", "error", err, "request_id", core.GetRequestID(ctx))
				continue
			}
			// Can't return an error after headers are sent; the client is gone.
			if err := sse.WriteEvent(w, sse.Event{Name: "next", Data: data}); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

// bindRequest reads a GraphQL request from the JSON body (POST) or from
// the query, operationName and variables parameters (GET).
func bindRequest(c echo.Context) (graph.Request, error) {
	var req graph.Request

	if c.Request().Method == http.MethodGet {
		req.Query = c.QueryParam("query")
		req.OperationName = c.QueryParam("operationName")
		if vars := c.QueryParam("variables"); vars != "" {
			if err := json.Unmarshal([]byte(vars), &req.Variables); err != nil {
				return req, echo.NewHTTPError(http.StatusBadRequest, "invalid variables: "+err.Error())
			}
		}
	} else if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return req, echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}

	if req.Query == "" {
		return req, echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	return req, nil
}

type errorBody struct {
	Errors []errorItem `json:"errors"`
}

type errorItem struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// errorHandler renders every unhandled error as {errors: [{message, timestamp}]}.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := err.Error()

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		status = httpErr.Code
		if msg, ok := httpErr.Message.(string); ok {
			message = msg
		} else {
			message = http.StatusText(status)
		}
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "error", err, "request_id", core.GetRequestID(c.Request().Context()))
	}

	body := errorBody{Errors: []errorItem{{
		Message:   message,
		Timestamp: time.Now().UTC().Format(core.TimestampFormat),
	}}}

	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(status)
	} else {
		writeErr = c.JSON(status, body)
	}
	if writeErr != nil {
		slog.Error("failed to write error response", "error", writeErr)
	}
}
