package inference

import (
	"errors"
)

// ErrUnsupportedModel is returned for model ids outside the catalog
var ErrUnsupportedModel = errors.New("unsupported model")

const (
	ModelFluxKontextDev = "black-forest-labs/flux-kontext-dev"
	ModelNanoBanana     = "google/nano-banana"
)

// Model is a supported image editing model
type Model struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	// SizedOutput models take explicit width and height
	SizedOutput bool `json:"-"`
}

var catalog = []Model{
	{
		ID:          ModelFluxKontextDev,
		Name:        "FLUX.1 Kontext [dev]",
		Description: "Text-guided image editing that preserves the input aspect ratio",
		SizedOutput: true,
	},
	{
		ID:          ModelNanoBanana,
		Name:        "Nano Banana",
		Description: "Google's multimodal image editing model",
	},
}

// Models returns the supported models
func Models() []Model {
	out := make([]Model, len(catalog))
	copy(out, catalog)
	return out
}

// LookupModel returns the catalog entry for id
func LookupModel(id string) (Model, bool) {
	for _, m := range catalog {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

// Params are the model-independent inputs of an edit
type Params struct {
	Prompt   string
	ImageURL string
	Width    int
	Height   int
}

// BuildInput maps params onto the input schema of model
func BuildInput(model string, p Params) (map[string]interface{}, error) {
	switch model {
	case ModelFluxKontextDev:
		return map[string]interface{}{
			"prompt":              p.Prompt,
			"input_image":         p.ImageURL,
			"output_format":       "jpg",
			"num_inference_steps": 30,
			"width":               p.Width,
			"height":              p.Height,
		}, nil
	case ModelNanoBanana:
		images := []string{}
		if p.ImageURL != "" {
			images = append(images, p.ImageURL)
		}
		return map[string]interface{}{
			"prompt":      p.Prompt,
			"image_input": images,
		}, nil
	default:
		return nil, ErrUnsupportedModel
	}
}
