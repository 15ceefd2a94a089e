package database

import (
	"context"
	"fmt"
	"log"

	firebase "firebase.google.com/go"
	"google.golang.org/api/option"
)

// ConnectFirebase initialises the firebase app shared by the Firestore store
// and the ID-token verifier. Without a credentials file the application
// default credentials are used.
func ConnectFirebase(ctx context.Context, projectID, credentialsFile string) (*firebase.App, error) {
	var conf *firebase.Config
	if projectID != "" {
		conf = &firebase.Config{ProjectID: projectID}
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %v", err)
	}

	log.Println("Firebase initialized")
	return app, nil
}
