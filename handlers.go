package novasite

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/genesinova/novasite/media"
)

const maxRelayBody = 64 << 10

// relayRequest is the body the site's forms post to the relay.
type relayRequest struct {
	Type        SubmissionType `json:"type"`
	Email       string         `json:"email" validate:"omitempty,email,max=254"`
	Name        string         `json:"name" validate:"max=200"`
	Message     string         `json:"message" validate:"max=10000"`
	Subject     string         `json:"subject" validate:"max=300"`
	Source      string         `json:"source" validate:"max=50"`
	InquiryType string         `json:"inquiry_type" validate:"max=50"`
}

func (r relayRequest) submission() Submission {
	return Submission{
		Type:        r.Type,
		Email:       strings.TrimSpace(r.Email),
		Name:        strings.TrimSpace(r.Name),
		Subject:     strings.TrimSpace(r.Subject),
		Message:     strings.TrimSpace(r.Message),
		Source:      strings.TrimSpace(r.Source),
		InquiryType: strings.TrimSpace(r.InquiryType),
	}
}

// newValidator returns a validator that reports json field names and knows
// which fields each submission type requires.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		r := sl.Current().Interface().(relayRequest)
		require := func(value, field string) {
			if strings.TrimSpace(value) == "" {
				sl.ReportError(value, field, field, "required", "")
			}
		}
		switch r.Type {
		case TypeSubscriber:
			require(r.Email, "email")
		case TypeContact:
			require(r.Name, "name")
			require(r.Email, "email")
			require(r.Message, "message")
		case TypeCollab:
			require(r.Email, "email")
			require(r.InquiryType, "inquiry_type")
		}
	}, relayRequest{})
	return v
}

// validationMessage turns validator errors into one readable sentence.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "Invalid submission"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "email":
			msgs = append(msgs, fe.Field()+" must be a valid email")
		case "max":
			msgs = append(msgs, fe.Field()+" is too long")
		default:
			msgs = append(msgs, fe.Field()+" is invalid")
		}
	}
	return "Invalid submission: " + strings.Join(msgs, ", ")
}

func jsonError(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"error": msg})
}

// handleSendEmail stores a form submission and mails a notification.
func (a *App) handleSendEmail(c echo.Context) error {
	if !a.submitLimiter.Allow(c.RealIP()) {
		return jsonError(c, http.StatusTooManyRequests, "Too many requests")
	}

	var req relayRequest
	body := io.LimitReader(c.Request().Body, maxRelayBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		a.log.Debug("invalid relay body", zap.Error(err))
		return jsonError(c, http.StatusBadRequest, "Invalid JSON body")
	}
	if req.Type == "" {
		return jsonError(c, http.StatusBadRequest, "Missing type")
	}
	if !req.Type.Valid() {
		return jsonError(c, http.StatusBadRequest, "Unknown type")
	}
	if err := a.validate.Struct(req); err != nil {
		return jsonError(c, http.StatusUnprocessableEntity, validationMessage(err))
	}

	sub, err := a.Store.SaveSubmission(req.submission())
	if err != nil {
		a.log.Error("store submission", zap.String("type", string(req.Type)), zap.Error(err))
		return jsonError(c, http.StatusInternalServerError, "Could not store submission")
	}
	a.log.Info("submission received",
		zap.String("id", sub.ID),
		zap.String("type", string(sub.Type)),
		zap.String("source", sub.Source),
	)

	if a.notifier == nil {
		a.log.Error("notification skipped", zap.Error(ErrSMTPNotConfigured))
		return jsonError(c, http.StatusInternalServerError, "SMTP not configured")
	}
	if err := a.notifier.Notify(c.Request().Context(), sub); err != nil {
		if errors.Is(err, ErrSMTPNotConfigured) {
			return jsonError(c, http.StatusInternalServerError, "SMTP not configured")
		}
		a.log.Error("notification failed", zap.String("id", sub.ID), zap.Error(err))
		return jsonError(c, http.StatusInternalServerError, "Email send failed")
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func (a *App) handleMediaList(c echo.Context) error {
	ids, err := a.Media.IDs()
	if err != nil {
		return err
	}
	if ids == nil {
		ids = []string{}
	}
	return c.JSON(http.StatusOK, map[string][]string{"ids": ids})
}

type mediaResponse struct {
	media.ResponsiveImage
	Sizes string `json:"sizes"`
}

// handleMediaGet returns everything needed to render one image. The optional
// mobile, tablet and desktop query parameters shape the sizes attribute.
func (a *App) handleMediaGet(c echo.Context) error {
	entry, err := a.Media.Get(c.Param("id"))
	if err != nil {
		if isNotFound(err) {
			return echo.NewHTTPError(http.StatusNotFound, "Image not found")
		}
		return err
	}
	return c.JSON(http.StatusOK, mediaResponse{
		ResponsiveImage: media.Responsive(entry, a.Config.Media.PublicPath),
		Sizes: media.Sizes(media.SizesConfig{
			Mobile:  c.QueryParam("mobile"),
			Tablet:  c.QueryParam("tablet"),
			Desktop: c.QueryParam("desktop"),
		}),
	})
}

func handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(code)
		}
	}
	if code >= 500 {
		a.log.Error("server error", zap.String("uri", c.Request().RequestURI), zap.Error(err))
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = jsonError(c, code, msg)
}
