package main

import (
	"os"

	"github.com/joho/godotenv"

	"coloringpage/internal/appcoloring"
)

func main() {
	// .env необязателен, в контейнере переменные приходят из окружения
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8077"
	}

	app := appcoloring.NewColoringSrv(port, os.Getenv("GEMINI_API_KEY"))

	defer app.Stop()

	app.Start()
}
