package entity

type LocationLevel string

const (
	LevelGlobal       LocationLevel = "global"
	LevelContinent    LocationLevel = "continent"
	LevelCountry      LocationLevel = "country"
	LevelCity         LocationLevel = "city"
	LevelDistrict     LocationLevel = "district"
	LevelNeighborhood LocationLevel = "neighborhood"
	LevelStreet       LocationLevel = "street"
	LevelBuilding     LocationLevel = "building"
	LevelRoom         LocationLevel = "room"
)

type LocationType string

const (
	OnSite LocationType = "on_site"
	Remote LocationType = "remote"
	Hybrid LocationType = "hybrid"
)

type CompanySize string

const (
	SizeSmall      CompanySize = "small"
	SizeMedium     CompanySize = "medium"
	SizeLarge      CompanySize = "large"
	SizeEnterprise CompanySize = "entreprise"
	SizeOther      CompanySize = "other"
)

// ParseCompanySize maps free-form config values onto a CompanySize.
func ParseCompanySize(s string) CompanySize {
	switch CompanySize(s) {
	case SizeSmall, SizeMedium, SizeLarge, SizeEnterprise:
		return CompanySize(s)
	case "enterprise":
		return SizeEnterprise
	default:
		return SizeOther
	}
}

type ContractType string

const (
	FullTime  ContractType = "full_time"
	PartTime  ContractType = "part_time"
	Contract  ContractType = "contract"
	Volunteer ContractType = "volunteer"
)

type ExperienceLevel string

const (
	Entry     ExperienceLevel = "entry"
	Mid       ExperienceLevel = "mid"
	Senior    ExperienceLevel = "senior"
	Principal ExperienceLevel = "principal"
)

type Gender string

type Category string

type MilitaryService string

type EducationLevel string

type Currency string

const (
	USD Currency = "usd"
	EUR Currency = "eur"
	IRR Currency = "irr"
)
