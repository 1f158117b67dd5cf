package httpadapter

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/oapi-codegen/runtime"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
)

func bindPathString(r *http.Request, name string) (string, error) {
	var value string
	err := runtime.BindStyledParameterWithOptions("simple", name, r.PathValue(name), &value, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Explode:       false,
		Required:      true,
	})
	if err != nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "bind path", fmt.Errorf("parameter %s: %w", name, err))
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "bind path", fmt.Errorf("parameter %s is required", name))
	}
	return value, nil
}

func bindPathInt(r *http.Request, name string) (int, error) {
	var value int
	err := runtime.BindStyledParameterWithOptions("simple", name, r.PathValue(name), &value, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Explode:       false,
		Required:      true,
	})
	if err != nil {
		return 0, domain.WrapError(domain.ErrInvalidInput, "bind path", fmt.Errorf("parameter %s: %w", name, err))
	}
	return value, nil
}

// bindQueryInt returns 0 when the parameter is absent.
func bindQueryInt(r *http.Request, name string) (int, error) {
	var value int
	if err := runtime.BindQueryParameter("form", true, false, name, r.URL.Query(), &value); err != nil {
		return 0, domain.WrapError(domain.ErrInvalidInput, "bind query", fmt.Errorf("parameter %s: %w", name, err))
	}
	return value, nil
}

func bindQueryString(r *http.Request, name string) (string, error) {
	var value string
	if err := runtime.BindQueryParameter("form", true, false, name, r.URL.Query(), &value); err != nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "bind query", fmt.Errorf("parameter %s: %w", name, err))
	}
	return strings.TrimSpace(value), nil
}

// versionToken reads the caller's token from If-Match (quotes and weak
// prefix stripped) or X-Version-Id. The body value is the fallback.
func versionToken(r *http.Request, bodyValue string) string {
	if v := strings.TrimSpace(r.Header.Get("If-Match")); v != "" && v != "*" {
		v = strings.TrimPrefix(v, "W/")
		return strings.Trim(v, `"`)
	}
	if v := strings.TrimSpace(r.Header.Get("X-Version-Id")); v != "" {
		return v
	}
	return strings.TrimSpace(bodyValue)
}
