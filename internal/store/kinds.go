package store

import (
	"log"

	"todoline/internal/domain"
	"todoline/internal/kv"
)

var TaskKind = Kind[domain.Task]{
	Name:   "task",
	Prefix: domain.TaskPrefix,
	ID:     domain.Task.EntityID,
	Clone:  domain.Task.Clone,
	Encode: domain.EncodeTask,
	Decode: domain.DecodeTask,
}

var GroupKind = Kind[domain.Group]{
	Name:   "group",
	Prefix: domain.GroupPrefix,
	ID:     domain.Group.EntityID,
	Clone:  domain.Group.Clone,
	Encode: domain.EncodeGroup,
	Decode: domain.DecodeGroup,
}

type (
	Tasks  = Store[domain.Task]
	Groups = Store[domain.Group]
)

func NewTasks(mirror *kv.Adapter, logger *log.Logger) *Tasks {
	return New(TaskKind, mirror, logger)
}

func NewGroups(mirror *kv.Adapter, logger *log.Logger) *Groups {
	return New(GroupKind, mirror, logger)
}
