package prompt

import "fmt"

// Thickness задаёт толщину линий раскраски
type Thickness string

const (
	ThicknessThin   Thickness = "thin"
	ThicknessNormal Thickness = "normal"
	ThicknessBold   Thickness = "bold"
)

// Options — параметры стиля, выбранные пользователем. Чистое значение,
// заменяется целиком при каждом изменении.
type Options struct {
	Thickness   Thickness `json:"thickness" yaml:"thickness"`
	RemoveGrays bool      `json:"remove_grays" yaml:"remove_grays"`
	Upscale     bool      `json:"upscale" yaml:"upscale"`
}

func DefaultOptions() Options {
	return Options{Thickness: ThicknessNormal}
}

// Validate проверяет, что толщина одна из трёх допустимых
func (o Options) Validate() error {
	switch o.Thickness {
	case ThicknessThin, ThicknessNormal, ThicknessBold:
		return nil
	}
	return fmt.Errorf("unknown thickness: %q", o.Thickness)
}

const (
	basePrompt = "Convert this image into a black and white line drawing suitable for a coloring book page. The lines should be %s."

	removeGraysClause = " The final image must be strictly black and white, with all shades of gray and color completely removed. The background should be pure white."

	upscaleClause = " The image should be generated in a higher resolution, with sharper, print-quality lines."
)

var thicknessDescriptors = map[Thickness]string{
	ThicknessThin:   "very thin, delicate lines, like a fine-point pen drawing",
	ThicknessNormal: "clear, medium-thickness lines, standard for a coloring book",
	ThicknessBold:   "very bold, thick lines, like a thick marker drawing",
}

// BuildInstruction собирает текст запроса к модели. Порядок частей
// фиксированный: базовая фраза, затем про серые тона, затем про разрешение.
func BuildInstruction(opts Options) string {
	descriptor, ok := thicknessDescriptors[opts.Thickness]
	if !ok {
		descriptor = thicknessDescriptors[ThicknessNormal]
	}

	result := fmt.Sprintf(basePrompt, descriptor)

	if opts.RemoveGrays {
		result += removeGraysClause
	}

	if opts.Upscale {
		result += upscaleClause
	}

	return result
}
