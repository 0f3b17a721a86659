package services

import (
	"errors"
	"fmt"

	"github.com/framecraft/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided malformed data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order or transaction id could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates a duplicate key or a lost optimistic concurrency race.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderIllegalTransition indicates a transition out of a terminal or unrelated status.
	ErrOrderIllegalTransition = errors.New("order: illegal status transition")
	// ErrOrderUnavailable indicates a backing store or collaborator is temporarily unavailable.
	ErrOrderUnavailable = errors.New("order: unavailable")
	// ErrPaymentNotAuthentic indicates a payment proof or callback failed signature checks.
	ErrPaymentNotAuthentic = errors.New("payment: not authentic")
	// ErrPaymentAmountMismatch indicates an authentic payment settled a different amount than the order total.
	ErrPaymentAmountMismatch = errors.New("payment: amount mismatch")
	// ErrNotificationFailed marks a notification that could not be handed off. Never fatal.
	ErrNotificationFailed = errors.New("notification: dispatch failed")
)

func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repositories.ErrInvalidCounter) {
		return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return err
}
