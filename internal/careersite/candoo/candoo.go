// Package candoo reads career pages hosted on the Candoo HR platform.
package candoo

import (
	"context"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/spigell/career-sync/internal/cache"
	"github.com/spigell/career-sync/internal/careersite"
	"github.com/spigell/career-sync/internal/entity"
)

const (
	BaseURL = "https://careerapi.hrcando.ir"

	headerFooterPath = "/api/v1/CareerPage/GetCareerPageHeaderFooterData"
	aboutUsPath      = "/api/v1/CareerPage/GetAboutUsModuleData"
	benefitsPath     = "/api/v1/CareerPage/GetCompanyBenefitsModuleData"
	jobListPath      = "/api/v1/CareerPage/GetCareerPageJobList"
	jobDetailPath    = "/api/v1/CareerPage/GetCareerPageJobPageInfoByJobGuid/"

	// ResponseTTL bounds how long upstream responses are reused.
	ResponseTTL = 24 * time.Hour

	defaultPageSize = 10
)

// Benefits maps Candoo benefit ids to perk names.
var Benefits = map[int]string{
	13: "Remote work",
	14: "Training courses",
	16: "Military service exemption (Amriye)",
	17: "Commute shuttle service",
	18: "Insurance",
	19: "Supplemental insurance",
	20: "Game room",
	21: "Team building budget",
	23: "Occasional gifts",
	24: "Flexible working hours",
	25: "Breakfast and snacks",
	26: "Food and lunch",
	27: "Rest room",
	28: "Loans and installment purchases",
	29: "Psychologist and counseling",
	30: "Vending machine",
	31: "Organizational gatherings",
	32: "Medical facilities",
	33: "Organizational doctor",
	34: "Individual coaching for managers",
	35: "Training facilities",
	36: "Organizational discounts",
	37: "Cafe",
	38: "Food allowance",
}

// Config describes one company hosted on Candoo. The platform does not
// publish company name, size or location, so they are configured.
type Config struct {
	Name     string `mapstructure:"name"`
	Address  string `mapstructure:"address"`
	AuthKey  string `mapstructure:"-"`
	Company  string `mapstructure:"company"`
	Size     string `mapstructure:"size"`
	Location string `mapstructure:"location"`
	PageSize int    `mapstructure:"page-size"`
	BaseURL  string `mapstructure:"base-url"`
}

type Client struct {
	cfg    Config
	rest   *careersite.RestClient
	cache  *cache.Service
	logger *zap.Logger
}

var _ careersite.Client = (*Client)(nil)

func New(cfg Config, responses *cache.Service, logger *zap.Logger) (*Client, error) {
	if cfg.Name == "" || cfg.Address == "" {
		return nil, fmt.Errorf("candoo: name and address are required")
	}
	if cfg.AuthKey == "" {
		return nil, fmt.Errorf("candoo %s: auth key is required", cfg.Name)
	}
	if cfg.Company == "" {
		cfg.Company = cfg.Name
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	base := cfg.BaseURL
	if base == "" {
		base = BaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	rest := careersite.NewRestClient(base, logger)
	rest.Header.Set("address", cfg.Address)
	rest.Header.Set("careerauthkey", cfg.AuthKey)

	return &Client{
		cfg:    cfg,
		rest:   rest,
		cache:  responses.WithPrefix("candoo-" + cfg.Name),
		logger: logger,
	}, nil
}

func (c *Client) Name() string {
	return c.cfg.Name
}

type envelope[T any] struct {
	Data T `json:"data"`
}

func (c *Client) data(ctx context.Context, key, path string, body any) (map[string]any, error) {
	return cache.Remember(ctx, c.cache, key, ResponseTTL, func(ctx context.Context) (map[string]any, error) {
		var resp envelope[map[string]any]
		var err error
		if body != nil {
			err = c.rest.PostJSON(ctx, path, body, &resp)
		} else {
			err = c.rest.GetJSON(ctx, path, nil, &resp)
		}
		if err != nil {
			return nil, fmt.Errorf("candoo %s: %w", c.cfg.Name, err)
		}
		if resp.Data == nil {
			return nil, fmt.Errorf("candoo %s: empty data from %s", c.cfg.Name, path)
		}
		return resp.Data, nil
	})
}

func (c *Client) HeaderAndFooter(ctx context.Context) (map[string]any, error) {
	return c.data(ctx, "header-footer", headerFooterPath, nil)
}

func (c *Client) AboutUs(ctx context.Context) (map[string]any, error) {
	return c.data(ctx, "about-us", aboutUsPath, nil)
}

type benefitList struct {
	Details []struct {
		BenefitID int `mapstructure:"benefitId"`
	} `mapstructure:"companyBenefitModuleDetailsList"`
}

// Perks returns the names of the benefits the company lists. Unknown ids
// are skipped.
func (c *Client) Perks(ctx context.Context) ([]string, error) {
	data, err := c.data(ctx, "benefits", benefitsPath, nil)
	if err != nil {
		return nil, err
	}
	var list benefitList
	if err := mapstructure.WeakDecode(data, &list); err != nil {
		return nil, fmt.Errorf("candoo %s: decode benefits: %w", c.cfg.Name, err)
	}

	perks := make([]string, 0, len(list.Details))
	for _, d := range list.Details {
		if name, ok := Benefits[d.BenefitID]; ok {
			perks = append(perks, name)
		} else {
			c.logger.Debug("unknown benefit", zap.Int("benefit_id", d.BenefitID))
		}
	}
	return perks, nil
}

func (c *Client) CompanyInfo(ctx context.Context) (*careersite.CompanyInfo, error) {
	perks, err := c.Perks(ctx)
	if err != nil {
		return nil, err
	}
	headerFooter, err := c.HeaderAndFooter(ctx)
	if err != nil {
		return nil, err
	}
	aboutUs, err := c.AboutUs(ctx)
	if err != nil {
		return nil, err
	}

	return &careersite.CompanyInfo{
		Name:         c.cfg.Company,
		Size:         entity.ParseCompanySize(c.cfg.Size),
		LocationName: c.cfg.Location,
		Perks:        perks,
		Extra: map[string]any{
			"header_and_footer": headerFooter,
			"about_us":          aboutUs,
		},
	}, nil
}

type jobList struct {
	Jobs []struct {
		JobGUID string `mapstructure:"jobGuid"`
	} `mapstructure:"jobs"`
}

func (c *Client) OpportunityIDs(ctx context.Context) ([]string, error) {
	data, err := c.data(ctx, "jobs", jobListPath, map[string]any{
		"take":         c.cfg.PageSize,
		"pageNumber":   1,
		"title":        "",
		"departmentId": "",
		"cityId":       "",
		"branchId":     "",
	})
	if err != nil {
		return nil, err
	}
	var list jobList
	if err := mapstructure.WeakDecode(data, &list); err != nil {
		return nil, fmt.Errorf("candoo %s: decode jobs: %w", c.cfg.Name, err)
	}

	ids := make([]string, 0, len(list.Jobs))
	for _, job := range list.Jobs {
		if job.JobGUID != "" {
			ids = append(ids, job.JobGUID)
		}
	}
	return ids, nil
}

type jobDetail struct {
	CityName       string `mapstructure:"cityName"`
	DepartmentName string `mapstructure:"departmentName"`
}

func (c *Client) OpportunityDetail(ctx context.Context, id string) (*careersite.OpportunityDetail, error) {
	data, err := c.data(ctx, "job:"+id, jobDetailPath+id, nil)
	if err != nil {
		return nil, err
	}
	var detail jobDetail
	if err := mapstructure.WeakDecode(data, &detail); err != nil {
		return nil, fmt.Errorf("candoo %s: decode job %s: %w", c.cfg.Name, id, err)
	}

	extra := make(map[string]any, len(data)+1)
	for k, v := range data {
		extra[k] = v
	}
	extra["job_page"] = fmt.Sprintf("%s/job-detail/%s", c.cfg.Address, id)

	return &careersite.OpportunityDetail{
		LocationName: detail.CityName,
		CategoryName: detail.DepartmentName,
		Extra:        extra,
	}, nil
}
