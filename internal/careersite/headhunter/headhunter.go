// Package headhunter exposes an employer page on hh.ru as a career site.
package headhunter

import (
	"context"
	"fmt"
	"net/url"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/spigell/career-sync/internal/careersite"
	"github.com/spigell/career-sync/internal/entity"
)

const (
	apiURL = "https://api.hh.ru"
	// Max value for search per page.
	perPage = "100"

	vacanciesPath = "/vacancies"
	employersPath = "/employers/"
)

type Config struct {
	Name       string   `mapstructure:"name"`
	EmployerID string   `mapstructure:"employer-id"`
	Token      string   `mapstructure:"-"`
	Size       string   `mapstructure:"size"`
	Perks      []string `mapstructure:"perks"`
	// Areas limits vacancies to hh.ru area ids.
	Areas  []string `mapstructure:"areas"`
	APIURL string   `mapstructure:"api-url"`
}

type Client struct {
	cfg    Config
	rest   *careersite.RestClient
	logger *zap.Logger
}

var _ careersite.Client = (*Client)(nil)

func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.EmployerID == "" {
		return nil, fmt.Errorf("headhunter: employer id is required")
	}
	if cfg.Name == "" {
		cfg.Name = "hh-" + cfg.EmployerID
	}
	base := cfg.APIURL
	if base == "" {
		base = apiURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	rest := careersite.NewRestClient(base, logger)
	if cfg.Token != "" {
		rest.Header.Set("Authorization", "Bearer "+cfg.Token)
	}

	return &Client{cfg: cfg, rest: rest, logger: logger}, nil
}

func (c *Client) Name() string {
	return c.cfg.Name
}

func (c *Client) CompanyInfo(ctx context.Context) (*careersite.CompanyInfo, error) {
	var raw map[string]any
	if err := c.rest.GetJSON(ctx, employersPath+c.cfg.EmployerID, nil, &raw); err != nil {
		return nil, fmt.Errorf("hh employer %s: %w", c.cfg.EmployerID, err)
	}

	var employer Employer
	if err := decode(raw, &employer); err != nil {
		return nil, fmt.Errorf("hh employer %s: %w", c.cfg.EmployerID, err)
	}

	return &careersite.CompanyInfo{
		Name:         employer.Name,
		Size:         entity.ParseCompanySize(c.cfg.Size),
		LocationName: employer.Area.Name,
		Perks:        c.cfg.Perks,
		Extra:        raw,
	}, nil
}

func (c *Client) OpportunityIDs(ctx context.Context) ([]string, error) {
	q := url.Values{}
	q.Set("employer_id", c.cfg.EmployerID)
	q.Set("per_page", perPage)
	for _, area := range c.cfg.Areas {
		q.Add("area", area)
	}

	items, err := c.GetItems(ctx, vacanciesPath, q)
	if err != nil {
		return nil, fmt.Errorf("hh vacancies of %s: %w", c.cfg.EmployerID, err)
	}

	var vacancies []*Vacancy
	if err := decode(items, &vacancies); err != nil {
		return nil, fmt.Errorf("hh vacancies of %s: %w", c.cfg.EmployerID, err)
	}

	ids := make([]string, 0, len(vacancies))
	for _, v := range vacancies {
		if v.Archived {
			continue
		}
		ids = append(ids, v.ID)
	}
	return ids, nil
}

func (c *Client) OpportunityDetail(ctx context.Context, id string) (*careersite.OpportunityDetail, error) {
	var raw map[string]any
	if err := c.rest.GetJSON(ctx, vacanciesPath+"/"+url.PathEscape(id), nil, &raw); err != nil {
		return nil, fmt.Errorf("hh vacancy %s: %w", id, err)
	}

	var vacancy Vacancy
	if err := decode(raw, &vacancy); err != nil {
		return nil, fmt.Errorf("hh vacancy %s: %w", id, err)
	}

	var category string
	if len(vacancy.ProfessionalRoles) > 0 {
		category = vacancy.ProfessionalRoles[0].Name
	}
	return &careersite.OpportunityDetail{
		LocationName: vacancy.Area.Name,
		CategoryName: category,
		Extra:        raw,
	}, nil
}

func decode(input, result any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           result,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}
