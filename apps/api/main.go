package main

import (
	"context"
	"fmt"
	"log"
	"os"

	echoapi "github.com/darasahq/darasa/apps/api/echo"
	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/chat"
	"github.com/darasahq/darasa/core/user"
	emailsvc "github.com/darasahq/darasa/services/email"
	logsvc "github.com/darasahq/darasa/services/logger"
	realtimesvc "github.com/darasahq/darasa/services/realtime"
	filesvc "github.com/darasahq/darasa/services/storage"
	"github.com/darasahq/darasa/storage/database"
	sqlxrepos "github.com/darasahq/darasa/storage/database/sqlx"
	"github.com/jmoiron/sqlx"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		core.Conf,
	)
	logger.Enable(!core.Conf.Debug)

	db, err := setUpDB()
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = db.Close(); err != nil {
			logger.Error("closing database", err)
		}
	}()

	broker, cleanupBroker, err := setUpBroker(logger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up broker: %v", err), err)
	}
	defer cleanupBroker()

	var mailSvc core.EmailService
	if core.Conf.Debug {
		mailSvc = emailsvc.NewConsoleService()
	} else {
		mailSvc = emailsvc.NewSendgridService(logger)
	}

	disk := filesvc.NewDisk()
	usrSvc := user.NewService(sqlxrepos.NewUserRepository(db), mailSvc)
	chatSvc := chat.NewService(
		sqlxrepos.NewChatRepository(db),
		broker,
		filesvc.PolicyUploader{Policy: filesvc.ChatAttachmentsPolicy(), Uploader: disk},
		usrSvc,
		mailSvc,
		logger,
	)

	// =========================================================================
	// Start API Service

	logger.Info(fmt.Sprintf("Application initializing : version %q", core.Conf.Build))
	defer logger.Info("Application stopped")

	server := echoapi.NewServer(
		&echoapi.Options{
			Address: core.Conf.Server.Addr(),
			Logger:  logger,
			UserSvc: usrSvc,
			ChatSvc: chatSvc,
			Uploads: filesvc.PolicyUploader{Policy: filesvc.LessonMaterialsPolicy(), Uploader: disk},
		},
	)
	server.Start()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), core.Conf.Server.ShutdownTimeout)
		defer cancel()

		if err = server.Stop(ctx); err != nil {
			logger.Fatal(fmt.Sprintf("could not stop server gracefully: %v", err), err)
		}
	}
}

func setUpDB() (*sqlx.DB, error) {
	if err := database.CreateIfNotExist(core.Conf); err != nil {
		return nil, err
	}
	db, err := database.Open(core.Conf)
	if err != nil {
		return nil, err
	}
	if err = database.Migrate(db.DB); err != nil {
		return nil, err
	}
	return db, nil
}

// setUpBroker connects to the configured NATS server, starting an in-process
// one first when Broker.Embedded is set.
func setUpBroker(logger core.Logger) (chat.Broker, func(), error) {
	url := core.Conf.Broker.URL
	cleanup := func() {}

	if core.Conf.Broker.Embedded {
		srv, embeddedURL, err := realtimesvc.StartEmbeddedServer(0)
		if err != nil {
			return nil, nil, err
		}
		url = embeddedURL
		cleanup = srv.Shutdown
	}

	broker, err := realtimesvc.NewNATSBroker(url, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	shutdownSrv := cleanup
	cleanup = func() {
		broker.Close()
		shutdownSrv()
	}
	return broker, cleanup, nil
}
