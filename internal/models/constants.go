package models

// Status is the liveness state derived from the active column.
type Status string

const (
	StatusUnchecked Status = "unchecked"
	StatusActive    Status = "active"
	StatusDead      Status = "dead"
)

// Canonical group labels. Source categories are folded onto these by the playlist parser.
const (
	GroupPublic        = "Общественные"
	GroupMovies        = "Фильмы"
	GroupKids          = "Детские"
	GroupMusic         = "Музыка"
	GroupEntertainment = "Развлекательные"
	GroupSports        = "Спортивные"
	GroupHobby         = "Хобби"
	GroupEducational   = "Познавательные"
	GroupReligious     = "Религиозные"
	GroupMisc          = "Разное"
)
