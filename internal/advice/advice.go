// Package advice enriches a disease prediction with structured guidance from
// an LLM, degrading to canned guidance whenever the provider is missing or
// misbehaves.
package advice

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/nanaosei/cropdoc/completer"
	"github.com/nanaosei/cropdoc/crop"
)

// Request carries everything the prompt needs about one prediction.
type Request struct {
	Crop        crop.Type
	Disease     string
	Confidence  float64
	Healthy     bool
	Description string

	// Optional context supplied by the farmer.
	Notes    string
	Question string
}

// Advice is the structured guidance for one prediction. Sections the
// provider left empty are omitted; QuestionAnswer is only ever populated
// when the request carried a question.
type Advice struct {
	Causes           string `json:"causes,omitempty"`
	ImmediateActions string `json:"immediate_actions,omitempty"`
	Prevention       string `json:"prevention,omitempty"`
	Treatment        string `json:"treatment,omitempty"`
	Monitoring       string `json:"monitoring,omitempty"`
	QuestionAnswer   string `json:"question_answer,omitempty"`
}

func (a Advice) empty() bool {
	return a == Advice{}
}

// Advisor generates advice through a completer.Completer. A nil completer is
// valid and means the provider is not configured.
type Advisor struct {
	c completer.Completer
}

func New(c completer.Completer) *Advisor {
	return &Advisor{c: c}
}

// Available reports whether an advice provider is configured.
func (a *Advisor) Available() bool {
	return a != nil && a.c != nil
}

// Generate returns advice for the request. It never fails: any provider or
// parse problem collapses to the deterministic fallback built from the
// disease name and base description.
func (a *Advisor) Generate(ctx context.Context, req Request) Advice {
	if !a.Available() {
		return fallback(req.Disease, req.Description)
	}

	text, err := a.c.Complete(ctx, buildPrompt(req))
	if err != nil {
		log.Printf("advice generation via %s failed: %v", a.c.Name(), err)
		return fallback(req.Disease, req.Description)
	}

	adv := parse(text)
	if adv.empty() {
		log.Printf("advice response from %s parsed to zero sections", a.c.Name())
		return fallback(req.Disease, req.Description)
	}
	return adv
}

// buildPrompt renders the analysis results, optional farmer context and the
// section markers the responder is instructed to populate.
func buildPrompt(req Request) string {
	status := "Diseased"
	if req.Healthy {
		status = "Healthy"
	}

	parts := []string{
		"You are an expert agricultural advisor specializing in crop diseases in Ghana and West Africa. A farmer has submitted an image for disease analysis.",
		"",
		"ANALYSIS RESULTS:",
		fmt.Sprintf("- Crop Type: %s", title(string(req.Crop))),
		fmt.Sprintf("- Detected Disease/Condition: %s", humanize(req.Disease)),
		fmt.Sprintf("- Confidence Level: %.1f%%", req.Confidence),
		fmt.Sprintf("- Plant Status: %s", status),
		fmt.Sprintf("- Basic Analysis: %s", req.Description),
		"",
	}

	if req.Notes != "" {
		parts = append(parts,
			fmt.Sprintf("FARMER'S NOTES ABOUT THE PLANT: %s", req.Notes),
			"")
	}
	if req.Question != "" {
		parts = append(parts,
			fmt.Sprintf("FARMER'S SPECIFIC QUESTION: %s", req.Question),
			"")
	}

	parts = append(parts,
		"Please provide comprehensive advice in the following structured format. Be practical, actionable, and considerate of small-scale farming conditions in Ghana:",
		"",
		"**CAUSES:**",
		"[Explain what typically causes this condition/disease, including environmental factors, pests, fungi, bacteria, or cultural practices]",
		"",
		"**IMMEDIATE_ACTIONS:**",
		"[List 3-5 immediate steps the farmer should take within the next few days]",
		"",
		"**PREVENTION:**",
		"[Describe preventive measures for future growing seasons]",
		"",
		"**TREATMENT:**",
		"[Recommend specific treatments, including organic and chemical options with local availability in mind]",
		"",
		"**MONITORING:**",
		"[Explain what signs to watch for and how often to check the plants]",
		"")

	if req.Question != "" {
		parts = append(parts,
			"**QUESTION_ANSWER:**",
			"[Directly address the farmer's specific question]",
			"")
	}

	parts = append(parts, "Keep advice practical for small-scale farmers with limited resources. Mention both organic and conventional treatment options. Use simple, clear language.")

	return strings.Join(parts, "\n")
}

// fallback is the canned advice used whenever the provider cannot be asked.
// It never populates QuestionAnswer.
func fallback(disease, description string) Advice {
	name := strings.ReplaceAll(strings.ToLower(disease), "_", " ")
	return Advice{
		Causes:           fmt.Sprintf("Multiple factors can contribute to %s. Common causes include environmental stress, improper care, or pathogen infection.", name),
		ImmediateActions: description,
		Prevention:       "Practice good crop hygiene, ensure proper spacing, and monitor plants regularly.",
		Treatment:        "Consult with local agricultural extension officers for specific treatment recommendations.",
		Monitoring:       "Check plants weekly for any changes in symptoms or new affected areas.",
	}
}

// humanize turns a training label like "septoria_leaf_spot" into
// "Septoria Leaf Spot".
func humanize(label string) string {
	return title(strings.ReplaceAll(label, "_", " "))
}

func title(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
