package metadata

/**
 * @brief The closed set of shading models. Each archetype maps to exactly
 * one pipeline.
 */
type Archetype uint8

const (
	ArchetypeUnlit Archetype = iota
	ArchetypeUnlitTransparent
	ArchetypeStandardPBR
	ArchetypeTransparentPBR

	ArchetypeCount
)

var Archetypes = [ArchetypeCount]Archetype{
	ArchetypeUnlit,
	ArchetypeUnlitTransparent,
	ArchetypeStandardPBR,
	ArchetypeTransparentPBR,
}

func (a Archetype) String() string {
	switch a {
	case ArchetypeUnlit:
		return "unlit"
	case ArchetypeUnlitTransparent:
		return "unlit_transparent"
	case ArchetypeStandardPBR:
		return "standard_pbr"
	case ArchetypeTransparentPBR:
		return "transparent_pbr"
	}
	return "unknown"
}

func (a Archetype) Valid() bool {
	return a < ArchetypeCount
}

// IsTransparent archetypes blend and are drawn back to front after all opaque work.
func (a Archetype) IsTransparent() bool {
	return a == ArchetypeUnlitTransparent || a == ArchetypeTransparentPBR
}

func (a Archetype) IsLit() bool {
	return a == ArchetypeStandardPBR || a == ArchetypeTransparentPBR
}
