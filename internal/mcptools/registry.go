package mcptools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dusk-indust/edoagree/internal/counterparty"
	"github.com/dusk-indust/edoagree/internal/orchestrator"
	"github.com/dusk-indust/edoagree/internal/registry"
	"github.com/dusk-indust/edoagree/internal/status"
)

// FindCounterpartyInput is the input for the find_counterparty MCP tool.
type FindCounterpartyInput struct {
	Company string `json:"company" jsonschema:"company code, e.g. kadis or uri"`
	TaxID   string `json:"taxId" jsonschema:"tax ID of the counterparty; spreadsheet forms like 7.84806E+11 are accepted"`
}

// Record is a registry row as reported by the tools. StatusChanged uses
// the registry's dd.mm.yyyy HH:MM layout.
type Record struct {
	TaxID         string `json:"taxId"`
	Name          string `json:"name"`
	KPP           string `json:"kpp,omitempty"`
	Supplier      string `json:"supplier,omitempty"`
	Status        string `json:"status,omitempty"`
	StatusChanged string `json:"statusChanged,omitempty"`
	OperatorBoxID string `json:"operatorBoxId,omitempty"`
}

func toRecord(c counterparty.Counterparty) Record {
	return Record{
		TaxID:         c.TaxID,
		Name:          c.Name,
		KPP:           c.KPP,
		Supplier:      c.Supplier,
		Status:        c.Status,
		StatusChanged: counterparty.FormatStatusDate(c.StatusChanged),
		OperatorBoxID: c.OperatorBoxID,
	}
}

// FindCounterpartyOutput is the result of the find_counterparty MCP tool.
type FindCounterpartyOutput struct {
	Found  bool    `json:"found"`
	Record *Record `json:"record,omitempty"`
}

// ListCounterpartiesInput is the input for the list_counterparties MCP tool.
type ListCounterpartiesInput struct {
	Company string `json:"company" jsonschema:"company code, e.g. kadis or uri"`
	Status  string `json:"status,omitempty" jsonschema:"only records whose status label contains this text (case-insensitive)"`
	From    string `json:"from,omitempty" jsonschema:"only records whose status changed on or after this date (dd.mm.yyyy)"`
	To      string `json:"to,omitempty" jsonschema:"only records whose status changed on or before this date (dd.mm.yyyy)"`
	Limit   int    `json:"limit,omitempty" jsonschema:"maximum number of results (default: 50)"`
}

// ListCounterpartiesOutput is the result of the list_counterparties MCP tool.
type ListCounterpartiesOutput struct {
	Records []Record `json:"records"`
	Total   int      `json:"total"`
}

// ClassifyTaxIDInput is the input for the classify_tax_id MCP tool.
type ClassifyTaxIDInput struct {
	TaxID string `json:"taxId" jsonschema:"raw tax ID as found in a spreadsheet"`
}

// ClassifyTaxIDOutput is the result of the classify_tax_id MCP tool.
type ClassifyTaxIDOutput struct {
	Cleaned   string `json:"cleaned"`
	LegalForm string `json:"legalForm"`
	Valid     bool   `json:"valid"`
	Reason    string `json:"reason,omitempty"`
}

// ShortNameInput is the input for the short_name MCP tool.
type ShortNameInput struct {
	FullName string `json:"fullName" jsonschema:"full name, surname first"`
}

// ShortNameOutput is the result of the short_name MCP tool.
type ShortNameOutput struct {
	ShortName string `json:"shortName"`
}

// RegistryStatusInput is the input for the registry_status MCP tool.
type RegistryStatusInput struct {
	Company string `json:"company,omitempty" jsonschema:"company code; all companies when empty"`
}

// CompanySummary is one company's registry summary.
type CompanySummary struct {
	Company      string              `json:"company"`
	Name         string              `json:"name"`
	Total        int                 `json:"total"`
	Labels       []status.LabelCount `json:"labels"`
	LastChange   string              `json:"lastChange,omitempty"`
	LastChangeBy string              `json:"lastChangeTaxId,omitempty"`
}

// RegistryStatusOutput is the result of the registry_status MCP tool.
type RegistryStatusOutput struct {
	Companies []CompanySummary `json:"companies"`
}

const defaultListLimit = 50

// RegistryService answers read-only questions about the company registries.
type RegistryService struct {
	store     registry.Store
	companies []counterparty.Company
}

// NewRegistryService creates a RegistryService over store.
func NewRegistryService(store registry.Store, companies []counterparty.Company) *RegistryService {
	return &RegistryService{store: store, companies: companies}
}

func (s *RegistryService) company(code string) (counterparty.Company, error) {
	if code == "" {
		return counterparty.Company{}, fmt.Errorf("company is required")
	}
	codes := make([]string, 0, len(s.companies))
	for _, c := range s.companies {
		if strings.EqualFold(c.Code, code) || c.Name == code {
			return c, nil
		}
		codes = append(codes, c.Code)
	}
	return counterparty.Company{}, fmt.Errorf("unknown company %q (have %s)", code, strings.Join(codes, ", "))
}

// FindCounterparty looks a single tax ID up in a company registry.
func (s *RegistryService) FindCounterparty(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input FindCounterpartyInput,
) (*mcp.CallToolResult, FindCounterpartyOutput, error) {
	company, err := s.company(input.Company)
	if err != nil {
		return nil, FindCounterpartyOutput{}, err
	}
	taxID := counterparty.CleanTaxID(input.TaxID)
	if taxID == "" {
		return nil, FindCounterpartyOutput{}, fmt.Errorf("taxId is required")
	}

	rec, err := s.store.Get(ctx, company.Code, taxID)
	if err != nil {
		return nil, FindCounterpartyOutput{}, fmt.Errorf("get %s: %w", taxID, err)
	}
	if rec == nil {
		return nil, FindCounterpartyOutput{}, nil
	}
	r := toRecord(*rec)
	return nil, FindCounterpartyOutput{Found: true, Record: &r}, nil
}

// ListCounterparties lists registry records, optionally filtered by status
// label and by status-change date.
func (s *RegistryService) ListCounterparties(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ListCounterpartiesInput,
) (*mcp.CallToolResult, ListCounterpartiesOutput, error) {
	company, err := s.company(input.Company)
	if err != nil {
		return nil, ListCounterpartiesOutput{}, err
	}

	var records []counterparty.Counterparty
	if input.From != "" || input.To != "" {
		from, to, err := dateRange(input.From, input.To)
		if err != nil {
			return nil, ListCounterpartiesOutput{}, err
		}
		records, err = s.store.ListChanged(ctx, company.Code, from, to)
		if err != nil {
			return nil, ListCounterpartiesOutput{}, fmt.Errorf("list changed: %w", err)
		}
	} else {
		records, err = s.store.List(ctx, company.Code)
		if err != nil {
			return nil, ListCounterpartiesOutput{}, fmt.Errorf("list: %w", err)
		}
	}

	if q := strings.ToLower(strings.TrimSpace(input.Status)); q != "" {
		filtered := records[:0]
		for _, r := range records {
			if strings.Contains(strings.ToLower(r.Status), q) {
				filtered = append(filtered, r)
			}
		}
		records = filtered
	}

	total := len(records)
	limit := input.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if len(records) > limit {
		records = records[:limit]
	}
	out := ListCounterpartiesOutput{Records: make([]Record, 0, len(records)), Total: total}
	for _, r := range records {
		out.Records = append(out.Records, toRecord(r))
	}
	return nil, out, nil
}

// ClassifyTaxID cleans a raw tax ID and reports which legal form it
// routes to.
func (s *RegistryService) ClassifyTaxID(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input ClassifyTaxIDInput,
) (*mcp.CallToolResult, ClassifyTaxIDOutput, error) {
	out := ClassifyTaxIDOutput{Cleaned: counterparty.CleanTaxID(input.TaxID)}
	form, err := counterparty.Classify(out.Cleaned)
	out.LegalForm = form.String()
	if err != nil {
		out.Reason = err.Error()
		return nil, out, nil
	}
	out.Valid = true
	return nil, out, nil
}

// ShortName renders a full name as initials plus surname.
func (s *RegistryService) ShortName(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input ShortNameInput,
) (*mcp.CallToolResult, ShortNameOutput, error) {
	if strings.TrimSpace(input.FullName) == "" {
		return nil, ShortNameOutput{}, fmt.Errorf("fullName is required")
	}
	return nil, ShortNameOutput{ShortName: counterparty.ShortName(input.FullName)}, nil
}

// RegistryStatus summarizes the registries by status label.
func (s *RegistryService) RegistryStatus(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input RegistryStatusInput,
) (*mcp.CallToolResult, RegistryStatusOutput, error) {
	companies := s.companies
	if input.Company != "" {
		c, err := s.company(input.Company)
		if err != nil {
			return nil, RegistryStatusOutput{}, err
		}
		companies = []counterparty.Company{c}
	}
	summary, err := status.Collect(ctx, s.store, companies)
	if err != nil {
		return nil, RegistryStatusOutput{}, err
	}
	out := RegistryStatusOutput{Companies: make([]CompanySummary, 0, len(summary))}
	for _, cs := range summary {
		if cs.Labels == nil {
			cs.Labels = []status.LabelCount{}
		}
		out.Companies = append(out.Companies, CompanySummary{
			Company:      cs.Company,
			Name:         cs.Name,
			Total:        cs.Total,
			Labels:       cs.Labels,
			LastChange:   counterparty.FormatStatusDate(cs.LastChange),
			LastChangeBy: cs.LastChangeBy,
		})
	}
	return nil, out, nil
}

// dateRange parses an optionally open-ended dd.mm.yyyy range. A missing
// bound extends to the zero time or far future.
func dateRange(fromS, toS string) (from, to time.Time, err error) {
	to = time.Date(9999, 12, 31, 0, 0, 0, 0, time.Local)
	if fromS != "" {
		from, err = time.ParseInLocation(orchestrator.PeriodLayout, strings.TrimSpace(fromS), time.Local)
		if err != nil {
			return from, to, fmt.Errorf("from: want dd.mm.yyyy, got %q", fromS)
		}
	}
	if toS != "" {
		to, err = time.ParseInLocation(orchestrator.PeriodLayout, strings.TrimSpace(toS), time.Local)
		if err != nil {
			return from, to, fmt.Errorf("to: want dd.mm.yyyy, got %q", toS)
		}
	}
	if to.Before(from) {
		return from, to, fmt.Errorf("range end %s is before start %s", toS, fromS)
	}
	return from, to, nil
}
