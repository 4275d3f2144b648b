package main

import (
	"net/http"

	httphandlers "finch/internal/interfaces/http"
	"finch/internal/shared/config"
	"finch/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", httphandlers.HandleHealth)

	// Public auth routes
	mux.HandleFunc("/api/auth/register", deps.AuthHandler.HandleRegister)
	mux.HandleFunc("/api/auth/login", deps.AuthHandler.HandleLogin)

	// Protected routes
	authMiddleware := middleware.Auth(deps.JWT)
	protect := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(h)
	}

	mux.Handle("/api/users/me", protect(deps.UserHandler.HandleMe))

	mux.Handle("/api/accounts", protect(deps.AccountHandler.HandleListAccounts))
	mux.Handle("/api/accounts/{id}", protect(deps.AccountHandler.HandleAccountByID))

	mux.Handle("/api/items", protect(deps.ItemHandler.HandleItems))
	mux.Handle("/api/items/link", protect(deps.ItemHandler.HandleLinkItem))
	mux.Handle("/api/items/{id}", protect(deps.ItemHandler.HandleItemByID))
	mux.Handle("/api/items/{id}/status", protect(deps.ItemHandler.HandleItemStatus))
	mux.Handle("/api/items/{id}/sync", protect(deps.ItemHandler.HandleSyncItem))
	mux.Handle("/api/items/{id}/reconnect", protect(deps.ReconnectHandler.HandlePrepare))

	mux.Handle("/api/reconnections/{id}", protect(deps.ReconnectHandler.HandleCancel))
	mux.Handle("/api/reconnections/{id}/confirm", protect(deps.ReconnectHandler.HandleConfirm))

	mux.Handle("/api/transactions", protect(deps.TransactionHandler.HandleTransactions))
	mux.Handle("/api/transactions/{id}", protect(deps.TransactionHandler.HandleTransactionByID))
	mux.Handle("/api/transactions/{id}/split", protect(deps.TransactionHandler.HandleSplit))
	mux.Handle("/api/transactions/{id}/tags", protect(deps.TransactionHandler.HandleTags))

	mux.Handle("/api/categories", protect(deps.CategoryHandler.HandleCategories))
	mux.Handle("/api/categories/{id}", protect(deps.CategoryHandler.HandleCategoryByID))
	mux.Handle("/api/categories/{id}/subcategories", protect(deps.CategoryHandler.HandleSubcategories))
	mux.Handle("/api/categories/{id}/subcategories/{subId}", protect(deps.CategoryHandler.HandleSubcategoryByID))

	mux.Handle("/api/tags", protect(deps.TagHandler.HandleTags))
	mux.Handle("/api/tags/{id}", protect(deps.TagHandler.HandleTagByID))

	mux.Handle("/api/notifications/register-device", protect(deps.NotificationHandler.HandleRegisterDevice))

	// Apply global middleware
	handler := middleware.Logging(middleware.CORS(mux))
	if cfg.Telemetry.Enabled {
		handler = middleware.Telemetry(middleware.Tracing(handler))
	}

	return handler
}
