package domain

import "errors"

// Ошибки доменной модели заказа.
var (
	ErrEmptyCustomerID         = errors.New("не указан покупатель")
	ErrEmptyItems              = errors.New("заказ без позиций")
	ErrEmptyProductID          = errors.New("позиция без товара")
	ErrInvalidQuantity         = errors.New("количество должно быть положительным")
	ErrInvalidPrice            = errors.New("цена не может быть отрицательной")
	ErrInvalidStatusTransition = errors.New("недопустимый переход статуса заказа")
	ErrOrderNotCancellable     = errors.New("заказ нельзя отменить в текущем статусе")
	ErrOrderNotFound           = errors.New("заказ не найден")
	ErrOrderConcurrentUpdate   = errors.New("заказ изменён конкурентно")
)
