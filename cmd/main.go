package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"github.com/sadenet/hotspot-gobackend/internal/db"
	"github.com/sadenet/hotspot-gobackend/internal/handlers"
	"github.com/sadenet/hotspot-gobackend/internal/queue"
	"github.com/sadenet/hotspot-gobackend/internal/services"
	"github.com/sadenet/hotspot-gobackend/internal/store"
)

func main() {
	// Load .env
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Error loading .env: %s", err)
	}

	// Connect to MongoDB
	uri := os.Getenv("MONGOURI")
	if uri == "" {
		log.Fatal("MONGOURI environment variable not set")
	}
	client, err := db.Connect(uri)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.Disconnect(ctx, client); err != nil {
			log.Printf("Error disconnecting from MongoDB: %v", err)
		}
	}()

	database := client.Database("sadenetdb")

	// Stores and indexes
	txStore := store.NewMongoTransactionStore(database)
	voucherStore := store.NewMongoVoucherStore(database)
	indexCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := txStore.EnsureIndexes(indexCtx); err != nil {
		log.Fatalf("Failed to ensure transaction indexes: %v", err)
	}
	if err := voucherStore.EnsureIndexes(indexCtx); err != nil {
		log.Fatalf("Failed to ensure voucher indexes: %v", err)
	}

	// Services and handlers
	gateway := services.NewDarajaService()
	paymentService := services.NewPaymentService(txStore, gateway)
	accessService := services.NewAccessService(queue.New(), voucherStore)

	paymentHandler := handlers.NewPaymentHandler(paymentService, accessService)
	accessHandler := handlers.NewAccessHandler(accessService)

	// Set up router
	router := mux.NewRouter()
	router.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"Awake"}`))
	}).Methods("GET", "HEAD")

	router.HandleFunc("/stk-push", paymentHandler.StkPush).Methods("POST")
	router.HandleFunc("/callback", paymentHandler.Callback).Methods("POST")
	router.HandleFunc("/status/{checkoutID}", paymentHandler.Status).Methods("GET")

	router.HandleFunc("/dequeue", accessHandler.Dequeue).Methods("GET")
	router.HandleFunc("/queue", accessHandler.QueueMonitor).Methods("GET")
	router.HandleFunc("/voucher/redeem", accessHandler.RedeemVoucher).Methods("POST")

	router.HandleFunc("/admin/sales", paymentHandler.AdminSales).Methods("GET")
	router.HandleFunc("/admin/vouchers", accessHandler.IssueVoucher).Methods("POST")

	// Start server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	server := &http.Server{
		Addr:         "0.0.0.0:" + port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	log.Printf("Server running on port %s", port)
	log.Fatal(server.ListenAndServe())
}
