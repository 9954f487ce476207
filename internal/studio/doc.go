// Package studio defines the domain model shared by the production line: the
// targets moving through the two slots, the generated post content, archived
// projects, and the collaborator interfaces the pipeline is wired against.
package studio
