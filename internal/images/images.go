// Package images resolves a task-type tag to the Docker image that runs
// it, per the static mapping in §4.5.1/§6: a small table of known types
// falling back to a default image for anything unrecognised.
package images

// Map is a task-type -> Docker image lookup table. It is a plain map
// rather than a registry type because it is pure, static data supplied
// once from configuration.
type Map struct {
	byType   map[string]string
	fallback string
}

// New builds a Map from a type->image table and the fallback image used
// for unrecognised task types.
func New(byType map[string]string, fallback string) *Map {
	m := &Map{byType: make(map[string]string, len(byType)), fallback: fallback}
	for k, v := range byType {
		m.byType[k] = v
	}
	return m
}

// Resolve returns the image for taskType, or the fallback image if the
// type is not in the table.
func (m *Map) Resolve(taskType string) string {
	if img, ok := m.byType[taskType]; ok {
		return img
	}
	return m.fallback
}
