package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound возвращается, если запись отсутствует.
	ErrNotFound = errors.New("запись не найдена")

	// ErrDuplicateFingerprint сигнализирует о нарушении уникальности отпечатка операции.
	ErrDuplicateFingerprint = errors.New("операция с таким отпечатком уже существует")

	// ErrStatsUnavailable означает, что статистика канала недоступна аккаунту сборщика.
	ErrStatsUnavailable = errors.New("статистика канала недоступна")

	// ErrThrottled означает, что действие уже выполнялось недавно.
	ErrThrottled = errors.New("действие уже выполнялось недавно")
)

// ParseError описывает некорректный ввод суммы.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("не удалось разобрать %q: %s", e.Input, e.Reason)
}

// ValidationError описывает невалидный черновик или ввод оператора.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

// DuplicateOperationError возвращается, когда операция уже была сохранена ранее.
type DuplicateOperationError struct {
	Existing Operation
}

func (e *DuplicateOperationError) Error() string {
	return fmt.Sprintf("дубликат операции #%d", e.Existing.ID)
}

// Is позволяет сопоставлять ошибку с ErrDuplicateFingerprint.
func (e *DuplicateOperationError) Is(target error) bool {
	return target == ErrDuplicateFingerprint
}

// StorageError оборачивает сбой хранилища.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("хранилище: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// CollectorError описывает сбой сбора статистики по одному каналу.
type CollectorError struct {
	ChannelID int64
	Err       error
}

func (e *CollectorError) Error() string {
	return fmt.Sprintf("сбор канала %d: %v", e.ChannelID, e.Err)
}

func (e *CollectorError) Unwrap() error {
	return e.Err
}
