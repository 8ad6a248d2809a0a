package migration

import (
	"github.com/learnify/learnify/internal/config"
	creditdomain "github.com/learnify/learnify/internal/credit/domain"
	paymentdomain "github.com/learnify/learnify/internal/payment/domain"
	studydomain "github.com/learnify/learnify/internal/study/domain"
	subjectdomain "github.com/learnify/learnify/internal/subject/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// sqlite and mysql are dev conveniences; AutoMigrate is enough there.
		return conn.AutoMigrate(
			&creditdomain.CreditGrant{},
			&creditdomain.UsageRecord{},
			&subjectdomain.Subject{},
			&studydomain.StudySession{},
			&studydomain.QuizResult{},
			&paymentdomain.EventRecord{},
		)
	}),
)
