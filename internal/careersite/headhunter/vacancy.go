package headhunter

type named struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type Vacancy struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Area named  `json:"area,omitempty"`
	Salary struct {
		From     int    `json:"from,omitempty"`
		To       int    `json:"to,omitempty"`
		Currency string `json:"currency,omitempty"`
		Gross    bool   `json:"gross,omitempty"`
	} `json:"salary,omitempty"`
	Experience        named   `json:"experience,omitempty"`
	Schedule          named   `json:"schedule,omitempty"`
	Employment        named   `json:"employment,omitempty"`
	Employer          named   `json:"employer,omitempty"`
	Description       string  `json:"description,omitempty"`
	AlternateURL      string  `json:"alternate_url,omitempty"`
	Archived          bool    `json:"archived,omitempty"`
	ProfessionalRoles []named `json:"professional_roles,omitempty"`
	KeySkills         []struct {
		Name string `json:"name,omitempty"`
	} `json:"key_skills,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
}

type Employer struct {
	ID          string  `json:"id,omitempty"`
	Name        string  `json:"name,omitempty"`
	Type        string  `json:"type,omitempty"`
	Description string  `json:"description,omitempty"`
	SiteURL     string  `json:"site_url,omitempty"`
	Area        named   `json:"area,omitempty"`
	Industries  []named `json:"industries,omitempty"`
}
