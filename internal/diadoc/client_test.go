package diadoc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/edoagree/internal/counterparty"
)

var testCreds = Credentials{ClientID: "client-1", Login: "user", Password: "secret"}

// fakeDiadoc serves the handful of endpoints the client uses.
type fakeDiadoc struct {
	t          *testing.T
	auths      atomic.Int32
	posts      atomic.Int32
	rejectOnce atomic.Bool
	orgs       map[string]Organization
	postStatus int
	lastPost   postMessage
}

func (f *fakeDiadoc) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/V3/Authenticate":
		assert.Equal(f.t, "password", r.URL.Query().Get("type"))
		assert.Equal(f.t, "DiadocAuth ddauth_api_client_id=client-1", r.Header.Get("Authorization"))
		var creds map[string]string
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&creds))
		if creds["password"] != "secret" {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
			return
		}
		n := f.auths.Add(1)
		w.Write([]byte(`"token-` + string(rune('0'+n)) + `"`))
		return
	}

	if f.rejectOnce.CompareAndSwap(true, false) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	assert.Contains(f.t, r.Header.Get("Authorization"), "ddauth_token=token-")

	switch r.URL.Path {
	case "/GetOrganizationsByInnKpp":
		org, ok := f.orgs[r.URL.Query().Get("inn")]
		var resp struct {
			Organizations []Organization `json:"Organizations"`
		}
		if ok {
			resp.Organizations = append(resp.Organizations, org)
		}
		json.NewEncoder(w).Encode(resp)
	case "/V3/PostMessage":
		f.posts.Add(1)
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&f.lastPost))
		if f.postStatus != 0 {
			http.Error(w, "quota exceeded", f.postStatus)
			return
		}
		w.Write([]byte(`{"MessageId":"msg-42"}`))
	default:
		http.NotFound(w, r)
	}
}

func newFake(t *testing.T) (*fakeDiadoc, *Client) {
	t.Helper()
	f := &fakeDiadoc{t: t, orgs: map[string]Organization{
		"7827004830": {OrgIDGUID: "org-sender", ShortName: "КАДИС", Boxes: []Box{{BoxIDGUID: "box-sender"}}},
		"7839305479": {OrgIDGUID: "org-recipient", ShortName: "ЮРИ", Boxes: []Box{{BoxIDGUID: "box-recipient"}}},
	}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, New(testCreds, WithBaseURL(srv.URL))
}

func writeDoc(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Agreement_ЮРИ.docx")
	require.NoError(t, os.WriteFile(path, []byte("docx-bytes"), 0o644))
	return path
}

func TestSend_PostsNonformalizedAttachment(t *testing.T) {
	f, c := newFake(t)
	doc := writeDoc(t)

	receipt, err := c.Send(context.Background(), SendRequest{
		SenderTaxID:            "7827004830",
		RecipientTaxID:         "7839305479",
		DocumentPath:           doc,
		DocumentDate:           time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC),
		NeedRecipientSignature: true,
	})
	require.NoError(t, err)
	assert.Equal(t, &Receipt{MessageID: "msg-42", RecipientOrgID: "org-recipient", RecipientBoxID: "box-recipient"}, receipt)
	assert.Equal(t, int32(1), f.auths.Load(), "token is cached across calls")

	msg := f.lastPost
	assert.Equal(t, "box-sender", msg.FromBoxID)
	assert.Equal(t, "box-recipient", msg.ToBoxID)
	require.Len(t, msg.DocumentAttachments, 1)
	att := msg.DocumentAttachments[0]
	assert.Equal(t, "Nonformalized", att.TypeNamedID)
	assert.True(t, att.NeedRecipientSignature)
	assert.Equal(t, DefaultComment, att.Comment)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("docx-bytes")), att.SignedContent.Content)
	assert.Equal(t, []metadataItem{
		{Key: "FileName", Value: "Agreement_ЮРИ.docx"},
		{Key: "DocumentDate", Value: "07.03.2025"},
	}, att.Metadata)
}

func TestSend_RecipientNotFound(t *testing.T) {
	f, c := newFake(t)
	_, err := c.Send(context.Background(), SendRequest{
		SenderTaxID:    "7827004830",
		RecipientTaxID: "1234567890",
		DocumentPath:   writeDoc(t),
	})
	require.Error(t, err)
	assert.Equal(t, counterparty.KindRecipientNotFound, counterparty.KindOf(err))
	assert.Equal(t, int32(0), f.posts.Load())
}

func TestSend_SenderWithoutMailboxIsTransmissionFailure(t *testing.T) {
	f, c := newFake(t)
	delete(f.orgs, "7827004830")

	_, err := c.Send(context.Background(), SendRequest{
		SenderTaxID:    "7827004830",
		RecipientTaxID: "7839305479",
		DocumentPath:   writeDoc(t),
	})
	require.Error(t, err)
	assert.Equal(t, counterparty.KindTransmission, counterparty.KindOf(err))
	assert.Contains(t, err.Error(), "sender mailbox not found")

	var ce *counterparty.Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "7839305479", ce.TaxID, "failure is reported against the recipient")
	assert.Equal(t, int32(0), f.posts.Load())
}

func TestSend_UpstreamFailureCarriesStatusAndBody(t *testing.T) {
	f, c := newFake(t)
	f.postStatus = http.StatusForbidden

	_, err := c.Send(context.Background(), SendRequest{
		SenderTaxID:    "7827004830",
		RecipientTaxID: "7839305479",
		DocumentPath:   writeDoc(t),
	})
	require.Error(t, err)
	assert.Equal(t, counterparty.KindTransmission, counterparty.KindOf(err))

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusForbidden, se.StatusCode)
	assert.Equal(t, "quota exceeded", se.Body)
}

func TestSend_MissingDocumentIsTransmissionFailure(t *testing.T) {
	_, c := newFake(t)
	_, err := c.Send(context.Background(), SendRequest{
		SenderTaxID:    "7827004830",
		RecipientTaxID: "7839305479",
		DocumentPath:   filepath.Join(t.TempDir(), "gone.docx"),
	})
	require.Error(t, err)
	assert.Equal(t, counterparty.KindTransmission, counterparty.KindOf(err))
}

func TestDo_ReauthenticatesOnceOn401(t *testing.T) {
	f, c := newFake(t)
	_, err := c.Authenticate(context.Background())
	require.NoError(t, err)

	f.rejectOnce.Store(true)
	org, err := c.Organization(context.Background(), "7839305479", "")
	require.NoError(t, err)
	assert.Equal(t, "ЮРИ", org.DisplayName())
	assert.Equal(t, int32(2), f.auths.Load())
}

func TestAuthenticate_BadCredentials(t *testing.T) {
	srv := httptest.NewServer(&fakeDiadoc{t: t})
	defer srv.Close()

	c := New(Credentials{ClientID: "client-1", Login: "user", Password: "wrong"}, WithBaseURL(srv.URL))
	_, err := c.Authenticate(context.Background())
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
}

func TestCredentials_Valid(t *testing.T) {
	assert.True(t, testCreds.Valid())
	assert.False(t, Credentials{ClientID: "x"}.Valid())
}
