// Package diadoc sends agreements to counterparties through the Diadoc
// electronic document exchange API.
package diadoc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dusk-indust/edoagree/internal/counterparty"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://diadoc-api.kontur.ru"

// DefaultComment accompanies every agreement.
const DefaultComment = "Соглашение об ЭДО"

// Credentials authenticate against the API.
type Credentials struct {
	ClientID string
	Login    string
	Password string
}

// Valid reports whether every credential is set.
func (c Credentials) Valid() bool {
	return c.ClientID != "" && c.Login != "" && c.Password != ""
}

// StatusError carries an unsuccessful upstream status and its body.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("diadoc: %s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// Box is one mailbox of an organization.
type Box struct {
	BoxIDGUID string `json:"BoxIdGuid"`
	Title     string `json:"Title,omitempty"`
}

// Organization is an entry of GetOrganizationsByInnKpp.
type Organization struct {
	OrgIDGUID string `json:"OrgIdGuid"`
	ShortName string `json:"ShortName"`
	FullName  string `json:"FullName"`
	Inn       string `json:"Inn"`
	Kpp       string `json:"Kpp"`
	Boxes     []Box  `json:"Boxes"`
}

// DisplayName prefers the short name.
func (o Organization) DisplayName() string {
	if o.ShortName != "" {
		return o.ShortName
	}
	return o.FullName
}

// SendRequest describes one outgoing agreement.
type SendRequest struct {
	SenderTaxID            string
	SenderKPP              string
	RecipientTaxID         string
	RecipientKPP           string
	DocumentPath           string
	Comment                string
	DocumentDate           time.Time
	NeedRecipientSignature bool
}

// Receipt is returned after a successful send.
type Receipt struct {
	MessageID      string
	RecipientOrgID string
	RecipientBoxID string
}

// Client talks to the Diadoc API. The auth token is obtained lazily and
// cached; a 401 triggers one re-authentication.
type Client struct {
	http    *http.Client
	baseURL string
	creds   Credentials
	logger  *zap.Logger

	mu    sync.Mutex
	token string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API root.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient replaces the underlying *http.Client entirely.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Client.
func New(creds Credentials, opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{Timeout: 60 * time.Second},
		baseURL: DefaultBaseURL,
		creds:   creds,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authenticate obtains a fresh token with login and password.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	body, _ := json.Marshal(map[string]string{"login": c.creds.Login, "password": c.creds.Password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/V3/Authenticate?type=password", bytes.NewReader(body))
	if err != nil {
		return "", eris.Wrap(err, "diadoc: create request")
	}
	req.Header.Set("Authorization", "DiadocAuth ddauth_api_client_id="+c.creds.ClientID)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "diadoc: authenticate")
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Op: "authenticate", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	token := strings.Trim(strings.TrimSpace(string(data)), `"`)

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	c.logger.Debug("diadoc authenticated")
	return token, nil
}

func (c *Client) currentToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}
	return c.Authenticate(ctx)
}

func (c *Client) dropToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// do sends an authorized request and decodes a JSON reply into out.
func (c *Client) do(ctx context.Context, op, method, path string, payload, out any) error {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return eris.Wrapf(err, "diadoc: %s: marshal", op)
		}
	}

	for attempt := 0; ; attempt++ {
		token, err := c.currentToken(ctx)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return eris.Wrapf(err, "diadoc: %s: create request", op)
		}
		req.Header.Set("Authorization",
			fmt.Sprintf("DiadocAuth ddauth_api_client_id=%s, ddauth_token=%s", c.creds.ClientID, token))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return eris.Wrapf(err, "diadoc: %s", op)
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			c.logger.Info("diadoc token rejected, re-authenticating", zap.String("op", op))
			c.dropToken()
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		}
		if readErr != nil {
			return eris.Wrapf(readErr, "diadoc: %s: read", op)
		}
		if out == nil {
			return nil
		}
		return eris.Wrapf(json.Unmarshal(data, out), "diadoc: %s: decode", op)
	}
}

// errNoOrganization marks an empty GetOrganizationsByInnKpp answer.
var errNoOrganization = errors.New("diadoc: organization not found")

// Organization looks up the first organization registered under taxID
// and, when given, kpp.
func (c *Client) Organization(ctx context.Context, taxID, kpp string) (*Organization, error) {
	q := url.Values{}
	q.Set("inn", taxID)
	if kpp != "" {
		q.Set("kpp", kpp)
	}
	var out struct {
		Organizations []Organization `json:"Organizations"`
	}
	if err := c.do(ctx, "get organization", http.MethodGet, "/GetOrganizationsByInnKpp?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	if len(out.Organizations) == 0 || len(out.Organizations[0].Boxes) == 0 {
		return nil, fmt.Errorf("%w: inn %s kpp %q", errNoOrganization, taxID, kpp)
	}
	return &out.Organizations[0], nil
}

type metadataItem struct {
	Key   string `json:"Key"`
	Value string `json:"Value"`
}

type signedContent struct {
	Content string `json:"Content"`
}

type documentAttachment struct {
	TypeNamedID            string         `json:"TypeNamedId"`
	SignedContent          signedContent  `json:"SignedContent"`
	Metadata               []metadataItem `json:"Metadata"`
	NeedRecipientSignature bool           `json:"NeedRecipientSignature"`
	Comment                string         `json:"Comment,omitempty"`
}

type postMessage struct {
	FromBoxID           string               `json:"FromBoxId"`
	ToBoxID             string               `json:"ToBoxId"`
	DocumentAttachments []documentAttachment `json:"DocumentAttachments"`
}

// Send resolves both mailboxes and posts the document as a nonformalized
// attachment. A missing recipient mailbox is a RecipientNotFound; every
// other failure, the sender's own mailbox included, is a
// TransmissionFailure against the recipient.
func (c *Client) Send(ctx context.Context, req SendRequest) (*Receipt, error) {
	from, err := c.Organization(ctx, req.SenderTaxID, req.SenderKPP)
	if err != nil {
		if errors.Is(err, errNoOrganization) {
			err = fmt.Errorf("diadoc: sender mailbox not found for %s: %w", req.SenderTaxID, err)
		}
		return nil, counterparty.NewError(counterparty.KindTransmission, req.RecipientTaxID, err)
	}
	to, err := c.Organization(ctx, req.RecipientTaxID, req.RecipientKPP)
	if err != nil {
		return nil, classify(req.RecipientTaxID, err)
	}

	content, err := os.ReadFile(req.DocumentPath)
	if err != nil {
		return nil, counterparty.NewError(counterparty.KindTransmission, req.RecipientTaxID,
			eris.Wrap(err, "diadoc: read document"))
	}

	metadata := []metadataItem{{Key: "FileName", Value: filepath.Base(req.DocumentPath)}}
	if !req.DocumentDate.IsZero() {
		metadata = append(metadata, metadataItem{Key: "DocumentDate", Value: req.DocumentDate.Format("02.01.2006")})
	}
	comment := req.Comment
	if comment == "" {
		comment = DefaultComment
	}
	msg := postMessage{
		FromBoxID: from.Boxes[0].BoxIDGUID,
		ToBoxID:   to.Boxes[0].BoxIDGUID,
		DocumentAttachments: []documentAttachment{{
			TypeNamedID:            "Nonformalized",
			SignedContent:          signedContent{Content: base64.StdEncoding.EncodeToString(content)},
			Metadata:               metadata,
			NeedRecipientSignature: req.NeedRecipientSignature,
			Comment:                comment,
		}},
	}

	c.logger.Info("posting document",
		zap.String("from", from.DisplayName()), zap.String("to", to.DisplayName()),
		zap.String("tax_id", req.RecipientTaxID), zap.String("file", filepath.Base(req.DocumentPath)))

	var out struct {
		MessageID string `json:"MessageId"`
	}
	if err := c.do(ctx, "post message", http.MethodPost, "/V3/PostMessage", msg, &out); err != nil {
		return nil, classify(req.RecipientTaxID, err)
	}
	return &Receipt{
		MessageID:      out.MessageID,
		RecipientOrgID: to.OrgIDGUID,
		RecipientBoxID: to.Boxes[0].BoxIDGUID,
	}, nil
}

func classify(taxID string, err error) error {
	if errors.Is(err, errNoOrganization) {
		return counterparty.NewError(counterparty.KindRecipientNotFound, taxID, err)
	}
	return counterparty.NewError(counterparty.KindTransmission, taxID, err)
}
