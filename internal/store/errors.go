package store

import "errors"

// Общие ошибки хранилища.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("not found")

	// ErrUnknownDriver — неизвестный драйвер в конфигурации.
	ErrUnknownDriver = errors.New("unknown store driver")
)
