package e2e

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dusk-indust/edoagree/internal/config"
	"github.com/dusk-indust/edoagree/internal/counterparty"
	"github.com/dusk-indust/edoagree/internal/diadoc"
	"github.com/dusk-indust/edoagree/internal/docfill"
	"github.com/dusk-indust/edoagree/internal/docfill/docxtest"
	"github.com/dusk-indust/edoagree/internal/focus"
	"github.com/dusk-indust/edoagree/internal/inflect"
	"github.com/dusk-indust/edoagree/internal/orchestrator"
	"github.com/dusk-indust/edoagree/internal/registry"
	"github.com/dusk-indust/edoagree/internal/source"
)

const (
	senderTaxID    = "7827004830"
	knownOrg       = "7801234567"
	unknownOrg     = "7807654321"
	lateProprietor = "780123456789"
)

// lookups counts requests per tax ID.
type lookups struct {
	mu     sync.Mutex
	byINN  map[string]int
	posted []map[string]any
}

func (l *lookups) hit(inn string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byINN[inn]++
}

func (l *lookups) count(inn string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.byINN[inn]
}

func focusServer(t *testing.T, l *lookups) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "focus-key", r.URL.Query().Get("key"))
		inn := r.URL.Query().Get("inn")
		l.hit(inn)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `[{"inn":%q,"UL":{"heads":[{"fio":"Иванов Иван Иванович","position":"ГЕНЕРАЛЬНЫЙ ДИРЕКТОР"}]}}]`, inn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func inflectServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer openai-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"Генерального директора|Иванова Ивана Ивановича"}}]}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// diadocServer knows the sender and knownOrg; every other tax ID has no
// mailbox.
func diadocServer(t *testing.T, l *lookups) *httptest.Server {
	t.Helper()
	orgs := map[string]string{senderTaxID: "sender", knownOrg: "recipient"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/V3/Authenticate":
			fmt.Fprint(w, `"token-1"`)
		case "/GetOrganizationsByInnKpp":
			assert.Contains(t, r.Header.Get("Authorization"), "ddauth_token=token-1")
			inn := r.URL.Query().Get("inn")
			id, ok := orgs[inn]
			if !ok {
				fmt.Fprint(w, `{"Organizations":[]}`)
				return
			}
			fmt.Fprintf(w, `{"Organizations":[{"OrgIdGuid":"org-%s","Inn":%q,"Boxes":[{"BoxIdGuid":"box-%s"}]}]}`, id, inn, id)
		case "/V3/PostMessage":
			var msg map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
			l.mu.Lock()
			l.posted = append(l.posted, msg)
			l.mu.Unlock()
			fmt.Fprint(w, `{"MessageId":"msg-1"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeTemplates(t *testing.T, dir string) {
	t.Helper()
	docxtest.Write(t, filepath.Join(dir, "KADIS_OOO_shablon.docx"), "",
		docxtest.Para("{{JL}}", " ИНН {{JL_INN}} КПП {{JL_KPP}}"),
		docxtest.Para("в лице {{post_fixed}} ", "{{fio_fixed}}"),
		docxtest.Para("{{dd}} {{mm}} {{yy}}"),
	)
	docxtest.Write(t, filepath.Join(dir, "KADIS_IP_shablon.docx"), "",
		docxtest.Para("{{IP}} ИНН {{IP_INN}}"),
	)
}

const listing = "Название организации;Поставщик;Количество;ИНН;КПП;Идентификатор участника ЭДО;Статус;Дата изменения статуса;ID организации;ID ящика\n" +
	"ООО Ромашка;;;7801234567;780101001;;;05.03.2025 10:00;;\n" +
	"ООО Лютик;;;7807654321;780201001;;;06.03.2025;;\n" +
	"ИП Петров;;;780123456789;;;;15.01.2025;;\n" +
	"Опечатка;;;78012;;;;06.03.2025;;\n"

func TestAgreementBatch_Period(t *testing.T) {
	var l lookups
	l.byINN = make(map[string]int)

	work := t.TempDir()
	templates := filepath.Join(work, "templates")
	output := filepath.Join(work, "out")
	writeTemplates(t, templates)

	company, err := config.DefaultCompanies()[0].Company()
	require.NoError(t, err)

	table, err := source.Parse([]byte(listing))
	require.NoError(t, err)
	rows := table.Counterparties()
	require.Len(t, rows, 4)

	now := time.Date(2025, time.March, 7, 14, 5, 0, 0, time.Local)
	clock := func() time.Time { return now }
	logger := zaptest.NewLogger(t)
	store := registry.NewMemStore()

	proc, err := orchestrator.New(company, orchestrator.Deps{
		Store: store,
		Resolver: focus.New("focus-key",
			focus.WithBaseURL(focusServer(t, &l).URL), focus.WithBackoff(0), focus.WithLogger(logger)),
		Normalizer: inflect.New("openai-key",
			inflect.WithBaseURL(inflectServer(t).URL), inflect.WithModel("gpt-4o-mini"), inflect.WithLogger(logger)),
		Filler: docfill.New(templates, output, docfill.WithClock(clock), docfill.WithLogger(logger)),
		Transmitter: diadoc.New(diadoc.Credentials{ClientID: "client", Login: "login", Password: "secret"},
			diadoc.WithBaseURL(diadocServer(t, &l).URL), diadoc.WithLogger(logger)),
		Arbiter: &orchestrator.PolicyArbiter{Policy: orchestrator.PolicySkip, Logger: logger},
	}, orchestrator.WithClock(clock), orchestrator.WithLogger(logger))
	require.NoError(t, err)

	from, to, err := orchestrator.ParsePeriod("01.03.2025", "10.03.2025")
	require.NoError(t, err)
	stats, err := proc.RunPeriod(t.Context(), rows, from, to)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Considered, "the proprietor changed in January")
	assert.Equal(t, 2, stats.Succeeded)
	assert.Equal(t, 1, stats.SendsSkipped)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Skipped)
	assert.False(t, stats.Aborted)

	t.Run("lookups", func(t *testing.T) {
		assert.Positive(t, l.count(knownOrg))
		assert.Positive(t, l.count(unknownOrg))
		assert.Zero(t, l.count(lateProprietor))
		assert.Zero(t, l.count("78012"))
	})

	t.Run("documents", func(t *testing.T) {
		docs, err := filepath.Glob(filepath.Join(output, "*", "*", "*.docx"))
		require.NoError(t, err)
		require.Len(t, docs, 2)

		path := filepath.Join(output, counterparty.SafeFileName(company.Name), "07.03.25", "Agreement_ООО Ромашка.docx")
		require.FileExists(t, path)
		text := docxtest.Text(t, path, "word/document.xml")
		assert.Contains(t, text, "ООО Ромашка ИНН 7801234567 КПП 780101001")
		assert.Contains(t, text, "в лице Генерального директора Иванова Ивана Ивановича")
		assert.Contains(t, text, "07 марта 2025")
		assert.NotContains(t, text, "{{")
	})

	t.Run("one message posted", func(t *testing.T) {
		l.mu.Lock()
		defer l.mu.Unlock()
		require.Len(t, l.posted, 1)
		msg := l.posted[0]
		assert.Equal(t, "box-sender", msg["FromBoxId"])
		assert.Equal(t, "box-recipient", msg["ToBoxId"])

		attachments, ok := msg["DocumentAttachments"].([]any)
		require.True(t, ok)
		require.Len(t, attachments, 1)
		att := attachments[0].(map[string]any)
		content := att["SignedContent"].(map[string]any)["Content"].(string)
		raw, err := base64.StdEncoding.DecodeString(content)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(raw), "PK"), "attachment is a zip archive")
	})

	t.Run("registry", func(t *testing.T) {
		ctx := t.Context()

		sent, err := store.Get(ctx, company.Code, knownOrg)
		require.NoError(t, err)
		require.NotNil(t, sent)
		assert.Equal(t, counterparty.StatusSent, sent.Status)
		assert.True(t, sent.StatusChanged.Equal(now))
		assert.Equal(t, "org-recipient", sent.OperatorOrgID)
		assert.Equal(t, "box-recipient", sent.OperatorBoxID)

		skipped, err := store.Get(ctx, company.Code, unknownOrg)
		require.NoError(t, err)
		require.NotNil(t, skipped)
		assert.Equal(t, counterparty.StatusSendSkipped, skipped.Status)
		assert.Empty(t, skipped.OperatorBoxID)

		late, err := store.Get(ctx, company.Code, lateProprietor)
		require.NoError(t, err)
		require.NotNil(t, late, "rows outside the period are still registered")
		assert.Empty(t, late.Status)

		typo, err := store.Exists(ctx, company.Code, "78012")
		require.NoError(t, err)
		assert.False(t, typo, "a malformed tax ID is never registered")

		changed, err := store.ListChanged(ctx, company.Code, from, to)
		require.NoError(t, err)
		assert.Len(t, changed, 2)
	})

	t.Run("delta after period offers only the malformed row", func(t *testing.T) {
		stats, err := proc.RunDelta(t.Context(), rows)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Considered)
		assert.Equal(t, 1, stats.Failed)
		assert.Zero(t, stats.Succeeded)

		l.mu.Lock()
		defer l.mu.Unlock()
		assert.Len(t, l.posted, 1)
	})
}

func TestAgreementBatch_AbortStopsBatch(t *testing.T) {
	var l lookups
	l.byINN = make(map[string]int)

	work := t.TempDir()
	templates := filepath.Join(work, "templates")
	writeTemplates(t, templates)

	company, err := config.DefaultCompanies()[0].Company()
	require.NoError(t, err)
	table, err := source.Parse([]byte(listing))
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	store := registry.NewMemStore()
	proc, err := orchestrator.New(company, orchestrator.Deps{
		Store:      store,
		Resolver:   focus.New("focus-key", focus.WithBaseURL(focusServer(t, &l).URL), focus.WithBackoff(0)),
		Normalizer: inflect.New("openai-key", inflect.WithBaseURL(inflectServer(t).URL), inflect.WithModel("gpt-4o-mini")),
		Filler:     docfill.New(templates, filepath.Join(work, "out")),
		Transmitter: diadoc.New(diadoc.Credentials{ClientID: "client", Login: "login", Password: "secret"},
			diadoc.WithBaseURL(diadocServer(t, &l).URL)),
		Arbiter: &orchestrator.PolicyArbiter{Policy: orchestrator.PolicyAbort, Logger: logger},
	}, orchestrator.WithLogger(logger))
	require.NoError(t, err)

	// A fresh registry makes every row a delta candidate; the second one
	// has no mailbox and the abort leaves the rest untouched.
	stats, err := proc.RunDelta(t.Context(), table.Counterparties())
	require.ErrorIs(t, err, orchestrator.ErrAborted)
	assert.True(t, stats.Aborted)
	assert.Equal(t, 4, stats.Considered)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Zero(t, l.count(lateProprietor))

	rec, err := store.Get(t.Context(), company.Code, unknownOrg)
	require.NoError(t, err)
	assert.Nil(t, rec, "an aborted record is not written")
}
