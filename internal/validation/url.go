package validation

import (
	"net/url"
	"strings"
)

// MaxURLLength задаёт максимальную длину URL, передаваемого платёжному провайдеру.
const MaxURLLength = 2048

// NormalizeRedirectURL проверяет URL возврата после оплаты.
// Пустая строка означает недопустимое значение. Слишком длинный URL заменяется на
// origin+fallbackPath, а если и он длиннее лимита, на origin.
func NormalizeRedirectURL(raw, fallbackPath string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	origin, ok := originOf(trimmed)
	if !ok {
		return ""
	}

	if len(trimmed) <= MaxURLLength {
		return trimmed
	}

	if fallback := origin + fallbackPath; len(fallback) <= MaxURLLength {
		return fallback
	}

	if len(origin) <= MaxURLLength {
		return origin
	}
	return ""
}

// NormalizeImageURL возвращает URL изображения товара или пустую строку, если его нужно опустить.
func NormalizeImageURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || len(trimmed) > MaxURLLength {
		return ""
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}

	return trimmed
}

func originOf(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return u.Scheme + "://" + strings.ToLower(u.Host), true
}
