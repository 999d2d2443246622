package saga

import "errors"

// Ошибки пакета saga.
var (
	// ErrSagaNotFound — сага не найдена.
	ErrSagaNotFound = errors.New("сага не найдена")

	// ErrSagaConcurrentUpdate — сага изменена конкурентно, версия устарела.
	// Вызывающая сторона перечитывает сагу и повторяет попытку.
	ErrSagaConcurrentUpdate = errors.New("сага изменена конкурентно")

	// ErrInvalidSagaTransition — недопустимый переход статуса саги.
	ErrInvalidSagaTransition = errors.New("недопустимый переход статуса саги")
)
