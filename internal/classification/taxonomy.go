// Package classification defines the static classification taxonomy
// (intents, domains, subcategories) and the compact line-oriented wire
// protocol the LLM classifier speaks, plus the system prompt that teaches
// it that protocol.
package classification

// Intent is one of the six message-intent tags the classifier assigns.
type Intent string

const (
	IntentRequest        Intent = "REQUEST"
	IntentOffer          Intent = "OFFER"
	IntentRecommendation Intent = "RECOMMENDATION"
	IntentComplaint      Intent = "COMPLAINT"
	IntentInfo           Intent = "INFO"
	IntentOther          Intent = "OTHER"
)

// Domain is one of the twelve top-level classification domains, the last
// of which (NONE) carries no subcategories.
type Domain string

const (
	DomainConstructionAndRepair Domain = "CONSTRUCTION_AND_REPAIR"
	DomainRentalOfRealEstate    Domain = "RENTAL_OF_REAL_ESTATE"
	DomainPurchaseOfRealEstate  Domain = "PURCHASE_OF_REAL_ESTATE"
	DomainRealEstateAgent       Domain = "REAL_ESTATE_AGENT"
	DomainLaw                   Domain = "LAW"
	DomainServices              Domain = "SERVICES"
	DomainAuto                  Domain = "AUTO"
	DomainMarketplace           Domain = "MARKETPLACE"
	DomainSocialCapital         Domain = "SOCIAL_CAPITAL"
	DomainOperationalManagement Domain = "OPERATIONAL_MANAGEMENT"
	DomainReputation            Domain = "REPUTATION"
	DomainNone                  Domain = "NONE"
)

// intentByCode and domainByCode mirror the LLM's numeric cheatsheet
// (classification.py's INTENT_CODE_TO_VALUE / DOMAIN_CODE_TO_VALUE).
var intentByCode = map[int]Intent{
	1: IntentRequest,
	2: IntentOffer,
	3: IntentRecommendation,
	4: IntentComplaint,
	5: IntentInfo,
	6: IntentOther,
}

var domainByCode = map[int]Domain{
	1:  DomainConstructionAndRepair,
	2:  DomainRentalOfRealEstate,
	3:  DomainPurchaseOfRealEstate,
	4:  DomainRealEstateAgent,
	5:  DomainLaw,
	6:  DomainServices,
	7:  DomainAuto,
	8:  DomainMarketplace,
	9:  DomainSocialCapital,
	10: DomainOperationalManagement,
	11: DomainReputation,
	12: DomainNone,
}

var domainCode = func() map[Domain]int {
	m := make(map[Domain]int, len(domainByCode))
	for code, d := range domainByCode {
		m[d] = code
	}
	return m
}()

const noneDomainCode = 12

// subcategoryByCode mirrors classification.py's SUBCATEGORY_CODE_TO_VALUE:
// the closed set of subcategory codes for each non-NONE domain.
var subcategoryByCode = map[Domain]map[int]string{
	DomainConstructionAndRepair: {
		1: "MAJOR_RENOVATION",
		2: "REPAIR_SERVICES",
		3: "SMALL_TOOLS_AND_MATERIALS",
	},
	DomainRentalOfRealEstate: {
		1: "RENTAL_APARTMENT",
		2: "RENTAL_HOUSE",
		3: "RENTAL_PARKING",
		4: "RENTAL_STORAGE",
		5: "RENTAL_LAND",
	},
	DomainPurchaseOfRealEstate: {
		1: "PURCHASE_APARTMENT",
		2: "PURCHASE_HOUSE",
		3: "PURCHASE_PARKING",
		4: "PURCHASE_STORAGE",
		5: "PURCHASE_LAND",
	},
	DomainRealEstateAgent: {1: "AGENT"},
	DomainLaw:             {1: "LAWYER"},
	DomainServices: {
		1: "BEAUTY_AND_HEALTH",
		2: "HOUSEHOLD_SERVICES",
		3: "CHILD_CARE_AND_EDUCATION",
		4: "DELIVERY_SERVICES",
		5: "TECH_REPAIR",
	},
	DomainAuto: {
		1: "AUTO_PURCHASE",
		2: "AUTO_PREMIUM_DETAILING",
		3: "AUTO_REPAIR",
		4: "AUTO_SERVICE_STATION",
	},
	DomainMarketplace: {
		1: "BUY_SELL_GOODS",
		2: "GIVE_AWAY",
		3: "HOMEMADE_FOOD",
		4: "BUYER_SERVICES",
	},
	DomainSocialCapital: {
		1: "PARENTING",
		2: "HOBBY_AND_SPORT",
		3: "EVENTS",
	},
	DomainOperationalManagement: {
		1: "LOST_AND_FOUND",
		2: "SECURITY",
		3: "LIVING_ENVIRONMENT",
		4: "MANAGEMENT_COMPANY_INTERACTION",
	},
	DomainReputation: {
		1: "PERSONAL_BRAND",
		2: "COMPANIES_REPUTATION",
	},
	DomainNone: {},
}

var subcategoryCode = func() map[Domain]map[string]int {
	out := make(map[Domain]map[string]int, len(subcategoryByCode))
	for d, codes := range subcategoryByCode {
		inner := make(map[string]int, len(codes))
		for code, name := range codes {
			inner[name] = code
		}
		out[d] = inner
	}
	return out
}()

// DomainInfo is a classified domain paired with the subcategory names the
// message was tagged with within it.
type DomainInfo struct {
	Domain        Domain   `json:"domain"`
	Subcategories []string `json:"subcategories"`
}
