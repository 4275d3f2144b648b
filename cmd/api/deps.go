package main

import (
	"context"
	"fmt"
	"log"

	"finch/internal/domain/categorize"
	"finch/internal/domain/item"
	"finch/internal/domain/notification"
	"finch/internal/domain/reconnect"
	"finch/internal/domain/split"
	syncengine "finch/internal/domain/sync"
	"finch/internal/infrastructure/crypto"
	"finch/internal/infrastructure/firebase"
	"finch/internal/infrastructure/plaid"
	"finch/internal/infrastructure/postgres"
	httphandlers "finch/internal/interfaces/http"
	"finch/internal/shared/auth"
	"finch/internal/shared/config"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB *postgres.DB

	// Handlers
	AuthHandler         *httphandlers.AuthHandler
	UserHandler         *httphandlers.UserHandler
	AccountHandler      *httphandlers.AccountHandler
	ItemHandler         *httphandlers.ItemHandler
	TransactionHandler  *httphandlers.TransactionHandler
	CategoryHandler     *httphandlers.CategoryHandler
	TagHandler          *httphandlers.TagHandler
	ReconnectHandler    *httphandlers.ReconnectHandler
	NotificationHandler *httphandlers.NotificationHandler

	// Auth
	JWT *auth.JWT

	// Sync engine and supporting state (for the scheduler job provider)
	Engine    *syncengine.Engine
	ItemRepo  *postgres.ItemRepository
	StashRepo *postgres.StashRepository
}

// NewDependencies initializes all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	// Connect to database and apply pending migrations
	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	log.Println("Connected to database")

	if err := db.RunMigrations(cfg.Database.MigrationsPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// Initialize token encryptor
	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		db.Close()
		return nil, err
	}

	// Initialize repositories
	userRepo := postgres.NewUserRepository(db)
	itemRepo := postgres.NewItemRepository(db)
	accountRepo := postgres.NewAccountRepository(db)
	transactionRepo := postgres.NewTransactionRepository(db)
	categoryRepo := postgres.NewCategoryRepository(db)
	tagRepo := postgres.NewTagRepository(db)
	deviceTokenRepo := postgres.NewDeviceTokenRepository(db)
	stashRepo := postgres.NewStashRepository(db)

	// Initialize provider client
	providerClient := plaid.NewClient(cfg.Plaid.Environment, cfg.Plaid.ClientID, cfg.Plaid.Secret)

	// Initialize push messaging (optional)
	var messenger notification.Messenger
	if cfg.Firebase.CredentialsFile != "" {
		fcmClient, err := firebase.NewClient(ctx, cfg.Firebase.CredentialsFile, deviceTokenRepo.DeactivateToken)
		if err != nil {
			log.Printf("Warning: push notifications disabled: %v", err)
		} else {
			messenger = fcmClient
			log.Println("Push notifications enabled")
		}
	} else {
		log.Println("No Firebase credentials configured, push notifications disabled")
	}
	notificationService := notification.NewService(deviceTokenRepo, messenger)

	// Initialize categorization assistant
	assistant := newAssistant(cfg.Categorize)

	// Initialize domain services
	locks := item.NewLocks()
	engine := syncengine.NewEngine(
		providerClient,
		itemRepo,
		accountRepo,
		transactionRepo,
		categoryRepo,
		assistant,
		notificationService,
		encryptor,
		locks,
		syncengine.Config{
			MaxRetries:    cfg.Sync.MaxRetries,
			RetryBackoff:  cfg.Sync.RetryBackoff,
			MinConfidence: cfg.Categorize.MinConfidence,
		},
	)
	splitService := split.NewService(transactionRepo)
	coordinator := reconnect.NewCoordinator(
		providerClient,
		itemRepo,
		accountRepo,
		transactionRepo,
		stashRepo,
		encryptor,
		engine,
		splitService,
		locks,
		cfg.Sync.ReconnectTTL,
	)

	// Initialize auth components
	jwt := auth.NewJWT(cfg.JWT.Secret)

	// Initialize handlers
	authHandler := httphandlers.NewAuthHandler(userRepo, jwt)
	userHandler := httphandlers.NewUserHandler(userRepo)
	accountHandler := httphandlers.NewAccountHandler(accountRepo)
	itemHandler := httphandlers.NewItemHandler(itemRepo, accountRepo, providerClient, encryptor, engine)
	transactionHandler := httphandlers.NewTransactionHandler(transactionRepo, accountRepo, tagRepo, splitService)
	categoryHandler := httphandlers.NewCategoryHandler(categoryRepo)
	tagHandler := httphandlers.NewTagHandler(tagRepo)
	reconnectHandler := httphandlers.NewReconnectHandler(coordinator)
	notificationHandler := httphandlers.NewNotificationHandler(notificationService)

	return &Dependencies{
		DB:                  db,
		AuthHandler:         authHandler,
		UserHandler:         userHandler,
		AccountHandler:      accountHandler,
		ItemHandler:         itemHandler,
		TransactionHandler:  transactionHandler,
		CategoryHandler:     categoryHandler,
		TagHandler:          tagHandler,
		ReconnectHandler:    reconnectHandler,
		NotificationHandler: notificationHandler,
		JWT:                 jwt,
		Engine:              engine,
		ItemRepo:            itemRepo,
		StashRepo:           stashRepo,
	}, nil
}

// newAssistant selects the categorization backend from configuration.
// The OpenAI backend falls back to keyword matching when it declines.
func newAssistant(cfg config.CategorizeConfig) categorize.Assistant {
	switch cfg.Provider {
	case "openai":
		log.Printf("Categorization: OpenAI (%s) with keyword fallback", cfg.OpenAIModel)
		return categorize.Fallback{
			categorize.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel),
			categorize.Keyword{},
		}
	case "none":
		log.Println("Categorization disabled")
		return categorize.Nop{}
	default:
		log.Println("Categorization: keyword matching")
		return categorize.Keyword{}
	}
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close() {
	if d.DB != nil {
		d.DB.Close()
	}
}
