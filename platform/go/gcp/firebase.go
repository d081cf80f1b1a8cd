package gcp

import (
	"context"
	"fmt"
	"os"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// CredentialsPathEnv points at a service account JSON file for local runs. In Cloud Run the
// ambient credentials are used instead.
const CredentialsPathEnv = "FIREBASE_CONFIG"

// CredentialsPathFromEnv returns the service account path, or "" when unset.
func CredentialsPathFromEnv() string {
	return os.Getenv(CredentialsPathEnv)
}

// GetApp creates a Firebase App, from a credentials file when one is given.
func GetApp(ctx context.Context, credentialsPath string) (*firebase.App, error) {
	var opts []option.ClientOption
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}
	return firebase.NewApp(ctx, nil, opts...)
}

// InitFirebaseAuth initializes the Firebase App and returns the Auth client used to verify
// operator ID tokens.
func InitFirebaseAuth(ctx context.Context, credentialsPath string) (*firebase.App, *firebaseauth.Client, error) {
	firebaseApp, err := GetApp(ctx, credentialsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("error initializing firebase app [%w]", err)
	}

	fbAuth, err := firebaseApp.Auth(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("error initializing firebase auth [%w]", err)
	}

	return firebaseApp, fbAuth, nil
}
