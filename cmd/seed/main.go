package main

import (
	"context"
	"errors"
	"log"
	"time"

	firebase "firebase.google.com/go"
	"github.com/universalathletics/inbox/internal/config"
	"github.com/universalathletics/inbox/internal/database"
	"github.com/universalathletics/inbox/internal/models"
	"github.com/universalathletics/inbox/internal/repository"
	"github.com/universalathletics/inbox/pkg/utils"
)

type line struct {
	fromMember bool
	content    string
}

var member = models.Participant{
	ID:         "1001",
	Type:       models.ParticipantMember,
	Name:       "Jordan Member",
	FirebaseID: "member-jordan",
}

var coaches = []models.Participant{
	{ID: "2001", Type: models.ParticipantCoach, Name: "Alex Strength", FirebaseID: "coach-alex"},
	{ID: "2002", Type: models.ParticipantCoach, Name: "Sam Endurance", FirebaseID: "coach-sam"},
	{ID: "2003", Type: models.ParticipantCoach, Name: "Riley Mobility", FirebaseID: "coach-riley"},
}

var script = []line{
	{fromMember: true, content: "Hi coach, I just joined. Can we talk about my plan?"},
	{fromMember: false, content: "Welcome! Tell me about your goals for the next 12 weeks."},
	{fromMember: true, content: "Mostly consistency, three sessions a week."},
	{fromMember: false, content: "Great, I'll put together a first block for you."},
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.StoreBackend == config.BackendMemory {
		log.Println("STORE_BACKEND is memory, seeded data will not outlive this process")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var app *firebase.App
	if cfg.NeedsFirebase() {
		app, err = database.ConnectFirebase(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredentialsFile)
		if err != nil {
			log.Fatalf("Failed to initialise firebase: %v", err)
		}
	}

	st, err := database.OpenStore(ctx, cfg, app)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.StoreBackend, err)
	}
	defer database.CloseDB()
	defer database.CloseRedis()
	defer st.Close()

	conversations := repository.NewConversationRepository(st.Conversations())
	messages := repository.NewMessageRepository(st.Messages(), st.Conversations())

	for _, coach := range coaches {
		conv, err := conversations.FindOrCreate(ctx, member, coach)
		if err != nil {
			log.Printf("Skipping %s: %v", coach.Name, err)
			continue
		}

		// Only script fresh conversations so reruns don't pile up messages.
		if conv.LastMessage != nil {
			log.Printf("Conversation %s already has messages", conv.ID)
			continue
		}

		for _, l := range script {
			sender, receiver := coach, member
			if l.fromMember {
				sender, receiver = member, coach
			}
			if _, err := messages.Send(ctx, conv.ID, sender, receiver, l.content); err != nil {
				if errors.Is(err, repository.ErrPreviewNotUpdated) {
					log.Printf("Preview of %s not updated: %v", conv.ID, err)
					continue
				}
				log.Printf("Failed to send to %s: %v", conv.ID, err)
				break
			}
		}
		log.Printf("Seeded conversation %s between %s and %s", conv.ID, member.Name, coach.Name)
	}

	if cfg.AuthProvider == "jwt" {
		for _, p := range append([]models.Participant{member}, coaches...) {
			token, err := utils.GenerateToken(p.FirebaseID, string(p.Type), cfg.JWTSecret)
			if err != nil {
				log.Printf("Failed to sign token for %s: %v", p.FirebaseID, err)
				continue
			}
			log.Printf("%s (%s): %s", p.Name, p.FirebaseID, token)
		}
	}
}
