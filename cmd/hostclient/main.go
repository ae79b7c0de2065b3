package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/rl1809/stockbridge/internal/adapter/handler"
	"github.com/rl1809/stockbridge/internal/core/domain"
)

func main() {
	addr := flag.String("grpc-addr", "localhost:50051", "host service address")
	host := flag.String("host", "AXIELL", "host system name")
	itemID := flag.String("item", "mlt-1", "host id of the demo item")
	location := flag.String("location", "SYNQ_WAREHOUSE", "storage location of the demo item")
	stock := flag.Int("stock", 20, "copies reported by the storage system")
	picks := flag.Int("picks", 50, "concurrent single-copy picks")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("failed to dial %s: %v", *addr, err)
	}
	defer conn.Close()
	client := handler.NewHostClient(conn)

	key := handler.ItemKeyRequest{HostName: *host, HostID: *itemID}
	_, err = client.CreateItem(ctx, &handler.CreateItemRequest{
		HostName:     *host,
		HostID:       *itemID,
		Description:  "demo item",
		ItemCategory: "PAPER",
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		log.Fatalf("failed to create item: %v", err)
	}

	if _, err := client.SynchronizeStock(ctx, &handler.SynchronizeStockRequest{
		ItemKeyRequest: key,
		Quantity:       *stock,
		Location:       location,
	}); err != nil {
		log.Fatalf("failed to synchronize stock: %v", err)
	}

	orderID := fmt.Sprintf("demo-%d", time.Now().UnixNano())
	if _, err := client.CreateOrder(ctx, &handler.CreateOrderRequest{
		HostName:      *host,
		HostOrderID:   orderID,
		ItemIDs:       []string{*itemID},
		OrderType:     "LOAN",
		ContactPerson: "hostclient",
	}); err != nil {
		log.Fatalf("failed to create order: %v", err)
	}
	log.Printf("created order %s:%s", *host, orderID)

	// Picks past the recorded stock still succeed and clamp at zero. Losers of
	// the optimistic lock come back as Aborted and are counted as conflicts.
	var picked, conflicted, failed atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *picks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := client.PickItem(ctx, &handler.PickItemRequest{ItemKeyRequest: key, Amount: 1})
			switch status.Code(err) {
			case codes.OK:
				picked.Add(1)
			case codes.Aborted:
				conflicted.Add(1)
			default:
				failed.Add(1)
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	item, err := client.GetItem(ctx, &key)
	if err != nil {
		log.Fatalf("failed to read item: %v", err)
	}

	fmt.Println("============== PICK RESULTS ==============")
	fmt.Printf("Initial Stock:    %d\n", *stock)
	fmt.Printf("Pick Requests:    %d\n", *picks)
	fmt.Printf("Picked:           %d\n", picked.Load())
	fmt.Printf("Conflicts:        %d\n", conflicted.Load())
	fmt.Printf("Failed:           %d\n", failed.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Printf("Final Quantity:   %d (%s)\n", item.Quantity, item.Location)
	fmt.Println("==========================================")

	want := max(*stock-int(picked.Load()), 0)
	locationOK := want > 0 || item.Location == domain.LocationWithLender
	if item.Quantity == want && locationOK {
		fmt.Println("PASS: every accepted pick was applied exactly once")
	} else {
		fmt.Printf("FAIL: picked %d of %d, expected %d left, found %d at %s\n",
			picked.Load(), *stock, want, item.Quantity, item.Location)
	}

	order, err := client.UpdateLineStatus(ctx, &handler.UpdateLineStatusRequest{
		OrderKeyRequest: handler.OrderKeyRequest{HostName: *host, HostOrderID: orderID},
		HostID:          *itemID,
		Status:          "PICKED",
	})
	if err != nil {
		log.Fatalf("failed to report line status: %v", err)
	}
	fmt.Printf("Order %s is %s\n", orderID, order.Status)
}
