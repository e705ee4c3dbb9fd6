package main

import (
	"fmt"
	"log"
	"os"

	"github.com/deemkeen/pitchconnect/activitypub"
	"github.com/deemkeen/pitchconnect/auth"
	"github.com/deemkeen/pitchconnect/db"
	"github.com/deemkeen/pitchconnect/mail"
	"github.com/deemkeen/pitchconnect/util"
	"github.com/deemkeen/pitchconnect/web"
	"github.com/google/uuid"
)

func main() {

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	database := db.GetDB()
	links := auth.NewMagicLinks(database)
	signups := auth.NewSignups(database, links)

	// Admin subcommands run against the same database and exit.
	if len(os.Args) > 1 {
		runAdminCommand(os.Args[1:], signups)
		return
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	fed := activitypub.NewQueueContext(database, conf)
	engine := activitypub.NewEngine(database, fed)

	if conf.Conf.WithAp {
		activitypub.StartDeliveryWorker(database)
	}

	mailer := mail.NewSMTPSender(conf.Smtp.Host, conf.Smtp.Port, conf.Smtp.Username, conf.Smtp.Password, conf.Smtp.From)
	server := web.NewServer(database, conf, links, signups, engine, mailer)
	if err := server.Router(); err != nil {
		log.Fatalln(err)
	}
}

// runAdminCommand handles the signup review commands:
//
//	pitchconnect approve <request-id>
//	pitchconnect reject <request-id>
func runAdminCommand(args []string, signups *auth.Signups) {
	if len(args) < 2 {
		log.Fatalln("usage: pitchconnect approve|reject <request-id>")
	}

	requestId, err := uuid.Parse(args[1])
	if err != nil {
		log.Fatalf("invalid request id %q: %v", args[1], err)
	}

	switch args[0] {
	case "approve":
		token, err := signups.Approve(requestId)
		if err != nil {
			log.Fatalln(err)
		}
		if token == "" {
			fmt.Println("Request is not pending, nothing to approve.")
			return
		}
		fmt.Printf("Approved. Invitation token (valid 24h):\n%s\n", token)
	case "reject":
		if err := signups.Reject(requestId); err != nil {
			log.Fatalln(err)
		}
		fmt.Println("Rejected.")
	default:
		log.Fatalf("unknown command %q", args[0])
	}
}
