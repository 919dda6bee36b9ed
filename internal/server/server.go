package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"signalwars/internal/domain"
	"signalwars/internal/engine"
	"signalwars/internal/engine/auth"
	"signalwars/internal/repo"
	"signalwars/internal/wire"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	// Webhooks and the NATS relay run until Context is cancelled. Nil
	// disables both.
	Context context.Context
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"season_not_active"`
	Message string         `json:"message" example:"season 3 is completed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type bodyOutput[T any] struct {
	Body T `json:"body"`
}

func respond[T any](v T) *bodyOutput[T] {
	return &bodyOutput[T]{Body: v}
}

// New returns an HTTP handler exposing the arena API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Signal Wars API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerArena(group, cfg.Engine)
	registerAgents(group, cfg.Engine)
	registerWallets(group, cfg.Engine)
	registerSeasons(group, cfg.Engine)
	registerPredictions(group, cfg.Engine)
	registerAchievements(group, cfg.Engine)
	registerTreasury(group, cfg.Engine)
	registerTx(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	if cfg.Auth.DevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)
	router.Get(path.Join(basePath, "events/stream"), eventStreamHandler(cfg.Engine))

	if cfg.Context != nil {
		startWebhookDispatcher(cfg.Context, cfg.Engine)
		if err := startNATSRelay(cfg.Context, cfg.Engine); err != nil {
			return nil, err
		}
	}
	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// statusForCode maps engine error codes onto HTTP statuses.
var statusForCode = map[string]int{
	engine.ErrAlreadyInitialized.Code:      http.StatusConflict,
	engine.ErrAlreadyExists.Code:           http.StatusConflict,
	engine.ErrPredictionInFlight.Code:      http.StatusConflict,
	engine.ErrVersionConflict.Code:         http.StatusConflict,
	engine.ErrInvalidPredictionStatus.Code: http.StatusConflict,
	engine.ErrInvalidSeasonStatus.Code:     http.StatusConflict,
	engine.ErrSeasonNotActive.Code:         http.StatusConflict,
	engine.ErrSeasonNotEnded.Code:          http.StatusConflict,
	engine.ErrNotEntered.Code:              http.StatusConflict,
	engine.ErrNotInitialized.Code:          http.StatusNotFound,
	engine.ErrNotFound.Code:                http.StatusNotFound,
	engine.ErrUnauthorized.Code:            http.StatusForbidden,
	engine.ErrHashMismatch.Code:            http.StatusUnprocessableEntity,
	engine.ErrInsufficientFunds.Code:       http.StatusUnprocessableEntity,
	engine.ErrNameTooLong.Code:             http.StatusBadRequest,
	engine.ErrEndpointTooLong.Code:         http.StatusBadRequest,
	engine.ErrInvalidName.Code:             http.StatusBadRequest,
	engine.ErrInvalidPrizeSplit.Code:       http.StatusBadRequest,
	engine.ErrInvalidAmount.Code:           http.StatusBadRequest,
	engine.ErrInvalidDuration.Code:         http.StatusBadRequest,
	engine.ErrInvalidAchievement.Code:      http.StatusBadRequest,
	engine.ErrPlaintextTooLong.Code:        http.StatusBadRequest,
	engine.ErrInvalidPlaintext.Code:        http.StatusBadRequest,
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var ee *engine.Error
	if errors.As(err, &ee) {
		status, ok := statusForCode[ee.Code]
		if !ok {
			status = http.StatusBadRequest
		}
		var details map[string]any
		var fe auth.ForbiddenError
		if errors.As(err, &fe) {
			details = map[string]any{"capability": fe.Capability}
		}
		return newAPIError(status, ee.Code, err.Error(), details)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, wire.ErrTruncated) || errors.Is(err, wire.ErrTrailingBytes) || errors.Is(err, wire.ErrUnknownOpcode) {
		return newAPIError(http.StatusBadRequest, "invalid_instruction", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "unprocessable"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	open := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if open[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Signal Wars API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[map[string]string], error) {
		return respond(map[string]string{"status": "ok"}), nil
	})
}

func registerArena(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "initialize-arena",
		Method:        http.MethodPost,
		Path:          "/arena",
		Summary:       "Initialize the arena with the caller as authority",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[domain.Arena], error) {
		caller, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		arena, err := e.InitializeArena(ctx, caller)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(arena), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-arena",
		Method:      http.MethodGet,
		Path:        "/arena",
		Summary:     "Get arena",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[domain.Arena], error) {
		arena, err := e.GetArena(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(arena), nil
	})
}

func registerAgents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-agent",
		Method:        http.MethodPost,
		Path:          "/agents",
		Summary:       "Register an agent owned by the caller",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body RegisterAgentRequest `json:"body"`
	}) (*bodyOutput[domain.Agent], error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		caller, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		agent, err := e.RegisterAgent(ctx, caller, input.Body.Name, input.Body.Endpoint)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(agent), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List agents",
	}, func(ctx context.Context, input *struct {
		Rank domain.Rank `query:"rank" enum:"bronze,silver,gold,diamond,legend"`
	}) (*bodyOutput[[]domain.Agent], error) {
		agents, err := e.ListAgents(ctx, input.Rank)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(agents)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-agent",
		Method:      http.MethodGet,
		Path:        "/agents/{owner}",
		Summary:     "Get the agent of an owner",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Owner string `path:"owner"`
	}) (*bodyOutput[domain.Agent], error) {
		agent, err := e.GetAgent(ctx, input.Owner)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(agent), nil
	})
}

func registerWallets(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-wallet",
		Method:      http.MethodGet,
		Path:        "/wallets/{owner}",
		Summary:     "Wallet balance",
	}, func(ctx context.Context, input *struct {
		Owner string `path:"owner"`
	}) (*bodyOutput[BalanceResponse], error) {
		balance, err := e.WalletBalance(ctx, input.Owner)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(BalanceResponse{Owner: input.Owner, Balance: balance}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deposit",
		Method:      http.MethodPost,
		Path:        "/wallets/{owner}/deposit",
		Summary:     "Credit external funds to a wallet",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Owner string        `path:"owner"`
		Body  AmountRequest `json:"body"`
	}) (*bodyOutput[BalanceResponse], error) {
		caller, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		balance, err := e.Deposit(ctx, caller, input.Owner, input.Body.Amount)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(BalanceResponse{Owner: input.Owner, Balance: balance}), nil
	})
}

type seasonPath struct {
	SeasonID uint64 `path:"season_id"`
}

func registerSeasons(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-season",
		Method:        http.MethodPost,
		Path:          "/seasons",
		Summary:       "Open a new season",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateSeasonRequest `json:"body"`
	}) (*bodyOutput[domain.Season], error) {
		caller, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		season, err := e.CreateSeason(ctx, caller, input.Body.EntryFee, input.Body.DurationDays, input.Body.PrizePoolBps)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(season), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-seasons",
		Method:      http.MethodGet,
		Path:        "/seasons",
		Summary:     "List seasons",
	}, func(ctx context.Context, input *struct {
		Status domain.SeasonStatus `query:"status" enum:"active,completed,cancelled"`
	}) (*bodyOutput[[]domain.Season], error) {
		seasons, err := e.ListSeasons(ctx, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(seasons)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-season",
		Method:      http.MethodGet,
		Path:        "/seasons/{season_id}",
		Summary:     "Get season",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *seasonPath) (*bodyOutput[domain.Season], error) {
		season, err := e.GetSeason(ctx, input.SeasonID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(season), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "enter-season",
		Method:        http.MethodPost,
		Path:          "/seasons/{season_id}/entries",
		Summary:       "Enter an agent, paying the fee from the caller's wallet",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		SeasonID uint64              `path:"season_id"`
		Body     *EnterSeasonRequest `json:"body" required:"false"`
	}) (*bodyOutput[domain.SeasonEntry], error) {
		caller, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		owner := caller
		if input.Body != nil && strings.TrimSpace(input.Body.AgentOwner) != "" {
			owner = strings.TrimSpace(input.Body.AgentOwner)
		}
		entry, err := e.EnterSeason(ctx, caller, input.SeasonID, owner)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(entry), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "season-standings",
		Method:      http.MethodGet,
		Path:        "/seasons/{season_id}/standings",
		Summary:     "Season entries ordered by score",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *seasonPath) (*bodyOutput[[]domain.SeasonEntry], error) {
		entries, err := e.Standings(ctx, input.SeasonID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(entries)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "distribute-prizes",
		Method:      http.MethodPost,
		Path:        "/seasons/{season_id}/distribute",
		Summary:     "Pay the prize pool and complete an ended season",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *seasonPath) (*bodyOutput[engine.Distribution], error) {
		caller, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		dist, err := e.DistributePrizes(ctx, caller, input.SeasonID)
		if err != nil {
			return nil, handleError(err)
		}
		dist.Payouts = nonNilSlice(dist.Payouts)
		return respond(dist), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-season",
		Method:      http.MethodPost,
		Path:        "/seasons/{season_id}/cancel",
		Summary:     "Cancel an active season and refund entry fees",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *seasonPath) (*bodyOutput[engine.Cancellation], error) {
		caller, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.CancelSeason(ctx, caller, input.SeasonID)
		if err != nil {
			return nil, handleError(err)
		}
		res.Refunds = nonNilSlice(res.Refunds)
		return respond(res), nil
	})
}

type predictionPath struct {
	Owner    string `path:"owner"`
	SeasonID uint64 `path:"season_id"`
	Sequence uint64 `path:"sequence"`
}

func (p predictionPath) ref() engine.PredictionRef {
	return engine.PredictionRef{Owner: p.Owner, SeasonID: p.SeasonID, Sequence: p.Sequence}
}

func registerPredictions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-prediction",
		Method:        http.MethodPost,
		Path:          "/seasons/{season_id}/predictions",
		Summary:       "Commit a prediction hash and stake for the caller's agent",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		SeasonID uint64                  `path:"season_id"`
		Body     SubmitPredictionRequest `json:"body"`
	}) (*bodyOutput[PredictionResponse], error) {
		caller, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		hash, err := domain.ParseHash(input.Body.PredictionHash)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": "prediction_hash"})
		}
		pred, err := e.SubmitPrediction(ctx, caller, input.SeasonID, hash, input.Body.StakeAmount)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(predictionResponse(pred)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-predictions",
		Method:      http.MethodGet,
		Path:        "/predictions",
		Summary:     "List predictions",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Owner    string                  `query:"owner"`
		SeasonID string                  `query:"season_id"`
		Status   domain.PredictionStatus `query:"status" enum:"committed,revealed,resolved,expired"`
	}) (*bodyOutput[[]PredictionResponse], error) {
		f := engine.PredictionFilter{Owner: input.Owner, Status: input.Status}
		if input.SeasonID != "" {
			id, err := strconv.ParseUint(input.SeasonID, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid season_id", map[string]any{"season_id": input.SeasonID})
			}
			f.SeasonID = &id
		}
		items, err := e.ListPredictions(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(mapPredictions(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-prediction",
		Method:      http.MethodGet,
		Path:        "/predictions/{owner}/{season_id}/{sequence}",
		Summary:     "Get prediction",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *predictionPath) (*bodyOutput[PredictionResponse], error) {
		pred, err := e.GetPrediction(ctx, input.ref())
		if err != nil {
			return nil, handleError(err)
		}
		return respond(predictionResponse(pred)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reveal-prediction",
		Method:      http.MethodPost,
		Path:        "/predictions/{owner}/{season_id}/{sequence}/reveal",
		Summary:     "Reveal the committed plaintext",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		predictionPath
		Body RevealPredictionRequest `json:"body"`
	}) (*bodyOutput[PredictionResponse], error) {
		caller, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pred, err := e.RevealPrediction(ctx, caller, input.ref(), []byte(input.Body.Plaintext))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(predictionResponse(pred)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-prediction",
		Method:      http.MethodPost,
		Path:        "/predictions/{owner}/{season_id}/{sequence}/resolve",
		Summary:     "Judge a revealed prediction and settle its stake",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		predictionPath
		Body ResolvePredictionRequest `json:"body"`
	}) (*bodyOutput[ResolutionResponse], error) {
		caller, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.ResolvePrediction(ctx, caller, input.ref(), input.Body.WasCorrect)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(resolutionResponse(res)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "expire-prediction",
		Method:      http.MethodPost,
		Path:        "/predictions/{owner}/{season_id}/{sequence}/expire",
		Summary:     "Forfeit a prediction left unrevealed after its season ended",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *predictionPath) (*bodyOutput[ResolutionResponse], error) {
		caller, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.ExpirePrediction(ctx, caller, input.ref())
		if err != nil {
			return nil, handleError(err)
		}
		return respond(resolutionResponse(res)), nil
	})
}

func registerAchievements(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "award-achievement",
		Method:        http.MethodPost,
		Path:          "/achievements",
		Summary:       "Award an achievement to an agent",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body AwardAchievementRequest `json:"body"`
	}) (*bodyOutput[domain.Achievement], error) {
		caller, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ach, err := e.AwardAchievement(ctx, caller, input.Body.AgentOwner, input.Body.AchievementType)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(ach), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-achievements",
		Method:      http.MethodGet,
		Path:        "/achievements",
		Summary:     "List achievements",
	}, func(ctx context.Context, input *struct {
		Owner string `query:"owner"`
	}) (*bodyOutput[[]domain.Achievement], error) {
		items, err := e.ListAchievements(ctx, input.Owner)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(items)), nil
	})
}

func registerTreasury(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-treasury",
		Method:      http.MethodGet,
		Path:        "/treasury",
		Summary:     "Treasury balance",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[BalanceResponse], error) {
		balance, err := e.TreasuryBalance(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(BalanceResponse{Balance: balance}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "fund-treasury",
		Method:      http.MethodPost,
		Path:        "/treasury/fund",
		Summary:     "Move funds from the caller's wallet into the treasury",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Body AmountRequest `json:"body"`
	}) (*bodyOutput[BalanceResponse], error) {
		caller, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		balance, err := e.FundTreasury(ctx, caller, input.Body.Amount)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(BalanceResponse{Balance: balance}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "withdraw-treasury",
		Method:      http.MethodPost,
		Path:        "/treasury/withdraw",
		Summary:     "Authority withdraws treasury funds to its wallet",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Body AmountRequest `json:"body"`
	}) (*bodyOutput[BalanceResponse], error) {
		caller, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		balance, err := e.WithdrawTreasury(ctx, caller, input.Body.Amount)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(BalanceResponse{Balance: balance}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-vault",
		Method:      http.MethodGet,
		Path:        "/vaults/{key}",
		Summary:     "Custodial account snapshot",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Key string `path:"key"`
	}) (*bodyOutput[domain.Vault], error) {
		v, err := e.Vault(ctx, input.Key)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(v), nil
	})
}

func registerTx(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-tx",
		Method:      http.MethodPost,
		Path:        "/tx",
		Summary:     "Execute one encoded instruction as the caller",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Body TxRequest `json:"body"`
	}) (*bodyOutput[TxResponse], error) {
		caller, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(input.Body.Instruction))
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "instruction must be base64", nil)
		}
		in, err := wire.Decode(data)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "invalid_instruction", err.Error(), nil)
		}
		res, err := e.Execute(ctx, caller, in)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(TxResponse{Opcode: in.Op().String(), Result: txResult(res)}), nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"arena,treasury,agent,wallet,season,season_entry,prediction,achievement"`
		EntityID   string `query:"entity_id"`
		ActorID    string `query:"actor_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*bodyOutput[paginatedEvents], error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursorID, repo.EventFilter{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			ActorID:    input.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return respond(resp), nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current identity and its capabilities",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[WhoAmIResponse], error) {
		principal, ok := principalFromContext(ctx)
		if !ok || principal.Identity == "" {
			return nil, newAPIError(http.StatusUnauthorized, "unauthenticated", "authentication required", nil)
		}
		caps, err := auth.Service{Repo: e.Repo}.ActorCapabilities(ctx, principal.Identity)
		if err != nil {
			return nil, handleError(err)
		}
		names := make([]string, 0, len(caps))
		for _, c := range caps {
			names = append(names, string(c))
		}
		return respond(WhoAmIResponse{
			Identity:     principal.Identity,
			Source:       principal.Source,
			Capabilities: names,
		}), nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*bodyOutput[DevLoginResponse], error) {
		identity := strings.TrimSpace(input.Body.Identity)
		if identity == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "identity is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, identity, 24*time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return respond(DevLoginResponse{Token: token}), nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
