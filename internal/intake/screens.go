// Package intake drives the guided onboarding flow: an ordered screen
// table with conditional visibility and per-profile dynamic options.
package intake

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/profile-engine/internal/model"
	"github.com/sells-group/profile-engine/internal/resolver"
)

// ScreenKind distinguishes how a screen is answered.
type ScreenKind string

const (
	// KindMessage is informational; any input advances past it.
	KindMessage ScreenKind = "message"
	// KindChoice requires one of the screen's options.
	KindChoice ScreenKind = "choice"
	// KindText accepts free text.
	KindText ScreenKind = "text"
)

// Screen is one step of the guided flow.
type Screen struct {
	ID     string
	Phase  model.IntakePhase
	Prompt string
	Kind   ScreenKind

	// Field is the registry key the answer feeds; empty for
	// message-only screens.
	Field   string
	Options []string

	// DynamicOptions computes options from profile state, e.g. city
	// lists keyed by country. When it returns nil the screen falls
	// back to free text.
	DynamicOptions func(p *model.Profile) []string

	// DynamicPrompt renders the prompt from profile state, e.g. the
	// profile summary shown at the end of structured capture.
	DynamicPrompt func(p *model.Profile) string

	// Condition gates visibility; nil means always shown.
	Condition func(p *model.Profile) bool
}

// EffectiveOptions resolves the option list for a profile.
func (s *Screen) EffectiveOptions(p *model.Profile) []string {
	if s.DynamicOptions != nil {
		return s.DynamicOptions(p)
	}
	return s.Options
}

// EffectivePrompt resolves the prompt text for a profile.
func (s *Screen) EffectivePrompt(p *model.Profile) string {
	if s.DynamicPrompt != nil {
		return s.DynamicPrompt(p)
	}
	return s.Prompt
}

var citiesByCountry = map[string][]string{
	"India":      {"Mumbai", "Delhi", "Bangalore", "Hyderabad", "Chennai", "Pune", "Kolkata", "Other"},
	"Pakistan":   {"Karachi", "Lahore", "Islamabad", "Other"},
	"Bangladesh": {"Dhaka", "Chittagong", "Other"},
	"USA":        {"New York", "San Francisco", "Los Angeles", "Chicago", "Houston", "Other"},
	"UK":         {"London", "Manchester", "Birmingham", "Other"},
	"Canada":     {"Toronto", "Vancouver", "Montreal", "Other"},
	"Australia":  {"Sydney", "Melbourne", "Other"},
	"UAE":        {"Dubai", "Abu Dhabi", "Other"},
	"Singapore":  {"Singapore"},
}

var incomeBracketsByCountry = map[string][]string{
	"India":    {"Under ₹10L", "₹10L-₹25L", "₹25L-₹50L", "₹50L-₹1Cr", "Over ₹1Cr", "Prefer not to say"},
	"Pakistan": {"Under ₨20L", "₨20L-₨50L", "Over ₨50L", "Prefer not to say"},
}

var defaultIncomeBrackets = []string{"Under $50k", "$50k-$100k", "$100k-$200k", "Over $200k", "Prefer not to say"}

func cityOptions(p *model.Profile) []string {
	return citiesByCountry[p.Attributes["country"]]
}

func incomeOptions(p *model.Profile) []string {
	if opts, ok := incomeBracketsByCountry[p.Attributes["country"]]; ok {
		return opts
	}
	return defaultIncomeBrackets
}

// partnerAgeOptions derives a window around the person's own age.
func partnerAgeOptions(min bool) func(p *model.Profile) []string {
	return func(p *model.Profile) []string {
		birth, err := resolver.ParseBirthDate(p.Attributes["date_of_birth"])
		if err != nil {
			return nil
		}
		age := resolver.AgeAt(birth, time.Now().UTC())
		lo, hi := age-10, age+10
		if lo < 18 {
			lo = 18
		}
		if hi > 80 {
			hi = 80
		}
		var opts []string
		for a := lo; a <= hi; a++ {
			opts = append(opts, strconv.Itoa(a))
		}
		if min {
			return opts
		}
		// Max side skews older.
		var upper []string
		for a := age; a <= hi+5 && a <= 80; a++ {
			upper = append(upper, strconv.Itoa(a))
		}
		return upper
	}
}

func showReligiousPractice(p *model.Profile) bool {
	switch p.Attributes["religion"] {
	case "Spiritual", "Atheist", "Agnostic":
		return false
	}
	return p.Attributes["religion"] != ""
}

func showCasteCommunity(p *model.Profile) bool {
	switch p.Attributes["country"] {
	case "India", "Pakistan", "Bangladesh":
	default:
		return false
	}
	switch p.Attributes["religion"] {
	case "Hindu", "Muslim", "Sikh", "Jain":
		return true
	}
	return false
}

// optionsFor pulls a field's option list from the registry so screen
// and registry never drift apart.
func optionsFor(reg *model.FieldRegistry, key string) []string {
	if spec := reg.ByKey(key); spec != nil {
		return spec.Options
	}
	return nil
}

// DefaultScreens builds the ordered flow for the given registry.
func DefaultScreens(reg *model.FieldRegistry) []Screen {
	choice := func(id string, phase model.IntakePhase, field, prompt string) Screen {
		return Screen{ID: id, Phase: phase, Kind: KindChoice, Field: field, Prompt: prompt, Options: optionsFor(reg, field)}
	}
	text := func(id string, phase model.IntakePhase, field, prompt string) Screen {
		return Screen{ID: id, Phase: phase, Kind: KindText, Field: field, Prompt: prompt}
	}

	screens := []Screen{
		{ID: "intro_welcome", Phase: model.PhaseIntro, Kind: KindMessage,
			Prompt: "Hi, I'm here to help you find a partner who actually fits your life. I'll ask a few questions to get started."},
		{ID: "intro_privacy", Phase: model.PhaseIntro, Kind: KindMessage,
			Prompt: "Everything you share stays private and is only used for matching. You can correct anything later just by telling me."},
		{ID: "intro_begin", Phase: model.PhaseIntro, Kind: KindMessage,
			Prompt: "Let's begin with the basics."},

		text("filters_dob", model.PhaseFilters, "date_of_birth", "What's your date of birth? (YYYY-MM-DD)"),
		choice("filters_gender", model.PhaseFilters, "gender_identity", "How do you identify?"),
		choice("filters_orientation", model.PhaseFilters, "sexual_orientation", "What's your sexual orientation?"),
		choice("filters_country", model.PhaseFilters, "country", "Which country do you live in?"),
		{ID: "filters_city", Phase: model.PhaseFilters, Kind: KindChoice, Field: "city",
			Prompt: "Which city?", DynamicOptions: cityOptions},
		choice("filters_religion", model.PhaseFilters, "religion", "What's your religious background?"),
		choice("filters_intent", model.PhaseFilters, "relationship_intent", "What are you looking for?"),
		choice("filters_timeline", model.PhaseFilters, "relationship_timeline", "What's your timeline?"),
		choice("filters_children", model.PhaseFilters, "children_intent", "Where do you stand on children?"),
		choice("filters_marital", model.PhaseFilters, "marital_history", "Have you been married before?"),
		choice("filters_education", model.PhaseFilters, "education_level", "What's your highest education?"),
		choice("filters_diet", model.PhaseFilters, "dietary_restrictions", "Any dietary practice I should know about?"),

		text("identity_name", model.PhaseIdentity, "full_name", "What's your full name?"),
		text("identity_occupation", model.PhaseIdentity, "occupation", "What do you do for work?"),
		text("identity_ethnicity", model.PhaseIdentity, "ethnicity", "What's your ethnic background? (optional, type 'skip' to move on)"),
		{ID: "identity_practice", Phase: model.PhaseIdentity, Kind: KindChoice, Field: "religious_practice_level",
			Prompt: "How practicing are you?", Options: optionsFor(reg, "religious_practice_level"),
			Condition: showReligiousPractice},
		{ID: "identity_caste", Phase: model.PhaseIdentity, Kind: KindText, Field: "caste_community",
			Prompt: "Is caste or community a factor for you or your family? If so, which one?",
			Condition: showCasteCommunity},
		choice("identity_smoking", model.PhaseIdentity, "smoking", "Do you smoke?"),
		choice("identity_drinking", model.PhaseIdentity, "drinking", "Do you drink?"),

		{ID: "lifestyle_age_min", Phase: model.PhaseLifestyle, Kind: KindChoice, Field: "partner_age_min",
			Prompt: "What's the youngest partner age you'd consider?", DynamicOptions: partnerAgeOptions(true)},
		{ID: "lifestyle_age_max", Phase: model.PhaseLifestyle, Kind: KindChoice, Field: "partner_age_max",
			Prompt: "And the oldest?", DynamicOptions: partnerAgeOptions(false)},
		text("lifestyle_religion_pref", model.PhaseLifestyle, "partner_religion_preference", "Does your partner's religion matter to you? How?"),
		choice("lifestyle_location_flex", model.PhaseLifestyle, "location_flexibility", "How flexible are you on location?"),
		text("lifestyle_children_pref", model.PhaseLifestyle, "children_preference", "What about your partner's stance on children?"),
		text("lifestyle_family_involvement", model.PhaseLifestyle, "family_involvement", "How involved is your family in this search?"),
		text("lifestyle_family_values", model.PhaseLifestyle, "family_values", "How would you describe your family values?"),
		text("lifestyle_social_energy", model.PhaseLifestyle, "social_energy", "Are you more of a homebody or out every weekend?"),
		text("lifestyle_fitness", model.PhaseLifestyle, "exercise_fitness", "How does fitness fit into your life?"),
		{ID: "lifestyle_income", Phase: model.PhaseLifestyle, Kind: KindChoice, Field: "income_bracket",
			Prompt: "Which income range are you in?", DynamicOptions: incomeOptions},

		{ID: "media_photo", Phase: model.PhaseMedia, Kind: KindText, Field: "photo_url",
			Prompt: "Share a link to a recent photo of yourself. (optional, type 'skip' to move on)"},
		{ID: "media_summary", Phase: model.PhaseMedia, Kind: KindMessage,
			Prompt:        "That's the structured part done. I've got a good picture of what you're looking for.",
			DynamicPrompt: summaryPrompt},
		{ID: "media_handoff", Phase: model.PhaseMedia, Kind: KindMessage,
			Prompt: "From here, just chat with me naturally. The more we talk, the better your matches get."},
	}

	// Seed prompts for the open-ended phase keep conversation moving
	// after the structured flow completes.
	screens = append(screens, Screen{
		ID: "open_ended_seed", Phase: model.PhaseOpenEnded, Kind: KindMessage,
		Prompt: "Tell me about the last relationship lesson that really stuck with you.",
	})
	return screens
}

// summaryFields picks what the recap screen plays back, in the order
// it reads naturally.
var summaryFields = []struct{ key, label string }{
	{"full_name", "Name"},
	{"city", "City"},
	{"country", "Country"},
	{"religion", "Religion"},
	{"occupation", "Occupation"},
	{"education_level", "Education"},
	{"relationship_intent", "Looking for"},
	{"relationship_timeline", "Timeline"},
	{"children_intent", "Children"},
}

// summaryPrompt renders the end-of-intake recap from what was
// actually captured; unanswered fields are simply left out.
func summaryPrompt(p *model.Profile) string {
	var b strings.Builder
	b.WriteString("Here's the profile you've built so far:\n")
	if birth, err := resolver.ParseBirthDate(p.Attributes["date_of_birth"]); err == nil {
		fmt.Fprintf(&b, "Age: %d\n", resolver.AgeAt(birth, time.Now().UTC()))
	}
	for _, f := range summaryFields {
		if v := p.Attributes[f.key]; v != "" {
			fmt.Fprintf(&b, "%s: %s\n", f.label, v)
		}
	}
	b.WriteString("You can refine any of this later just by telling me.")
	return b.String()
}

// reprompt messages
const (
	msgUnrecognized = "Sorry, I didn't catch that. Please pick one of the options."
	msgEmptyText    = "I need an answer for this one before we move on."
)

func repromptFor(s *Screen, p *model.Profile) string {
	opts := s.EffectiveOptions(p)
	if len(opts) > 0 {
		return fmt.Sprintf("%s\n%s", msgUnrecognized, s.EffectivePrompt(p))
	}
	return fmt.Sprintf("%s\n%s", msgEmptyText, s.EffectivePrompt(p))
}
