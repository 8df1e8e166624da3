package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	return WithLocalizer(context.Background(), NewLocalizer(lang))
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "ErrWalletNotConnected")
	if got != "Connect your wallet first." {
		t.Errorf("T(ErrWalletNotConnected) = %q", got)
	}
	got = T(ctx, "ErrPrivacyViolation")
	if !strings.Contains(got, "wallet address") {
		t.Errorf("T(ErrPrivacyViolation) = %q, want a mention of the wallet address", got)
	}
}

func TestTranslateRussian(t *testing.T) {
	ctx := initLang(t, "ru")

	got := T(ctx, "ErrWalletNotConnected")
	if got != "Сначала подключите кошелёк." {
		t.Errorf("T(ErrWalletNotConnected) = %q", got)
	}
}

func TestEveryMessageTranslated(t *testing.T) {
	en := initLang(t, "en")
	ru := WithLocalizer(context.Background(), NewLocalizer("ru"))

	ids := []string{
		"ErrPrivacyViolation", "ErrEntropyUnavailable", "ErrStorageUnavailable",
		"ErrInvalidIdentity", "ErrWalletNotConnected", "ErrAnswerTampered",
		"ErrLedgerWrite", "ErrLedgerRead", "ErrNotFound", "ErrAlreadyEvaluated",
		"ErrExamClosed", "ErrNoLocalIdentity", "ErrDeviceRequired", "ErrUnauthorized", "ErrForbidden",
		"ErrInvalidCredentials", "ErrBadRequest", "ErrSuggestionsOff", "ErrInternal",
	}
	for _, id := range ids {
		e, r := T(en, id), T(ru, id)
		if e == id || r == id {
			t.Errorf("%s is missing a translation (en=%q ru=%q)", id, e, r)
		}
		if e == r {
			t.Errorf("%s has the same text in en and ru", id)
		}
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	if got := Tp(ctx, "NeedsManualGrading", 1); got != "1 question needs manual grading." {
		t.Errorf("Tp(NeedsManualGrading, 1) = %q", got)
	}
	if got := Tp(ctx, "NeedsManualGrading", 3); got != "3 questions need manual grading." {
		t.Errorf("Tp(NeedsManualGrading, 3) = %q", got)
	}

	ru := WithLocalizer(context.Background(), NewLocalizer("ru"))
	if got := Tp(ru, "NeedsManualGrading", 5); got != "5 вопросов требуют ручной проверки." {
		t.Errorf("Tp(NeedsManualGrading, 5) ru = %q", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "ErrInvalidExam", map[string]any{"Reason": "duplicate question id"})
	if got != "The exam is invalid: duplicate question id" {
		t.Errorf("Td(ErrInvalidExam) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "NonExistentKey"); got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestMiddlewareNegotiation(t *testing.T) {
	initLang(t, "en")

	tests := []struct {
		name   string
		url    string
		accept string
		want   string
	}{
		{"default", "/", "", "Connect your wallet first."},
		{"accept-language", "/", "ru-RU,ru;q=0.9", "Сначала подключите кошелёк."},
		{"query wins", "/?lang=en", "ru", "Connect your wallet first."},
		{"unsupported falls back", "/", "de", "Connect your wallet first."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = T(r.Context(), "ErrWalletNotConnected")
			}))
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.accept != "" {
				req.Header.Set("Accept-Language", tt.accept)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNegotiate(t *testing.T) {
	initLang(t, "en")

	var langs []string
	for _, tag := range Languages() {
		langs = append(langs, tag.String())
	}
	if !slices.Contains(langs, "en") || !slices.Contains(langs, "ru") {
		t.Fatalf("Languages() = %v, want en and ru", langs)
	}

	tests := []struct {
		prefs []string
		want  string
	}{
		{nil, "en"},
		{[]string{"ru-RU,ru;q=0.9"}, "ru"},
		{[]string{"de", "ru"}, "ru"},
		{[]string{"de-DE,fr;q=0.8"}, "en"},
	}
	for _, tt := range tests {
		if got := Negotiate("en", tt.prefs...); got != tt.want {
			t.Errorf("Negotiate(%q) = %q, want %q", tt.prefs, got, tt.want)
		}
	}

	h := Middleware("en")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/?lang=ru", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Content-Language"); got != "ru" {
		t.Errorf("Content-Language = %q, want ru", got)
	}
}
