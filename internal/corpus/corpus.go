// Package corpus carries the built-in UKConnect dataset: the customer
// policy document served by the retrieval engine and the reference data
// (customers, timetable, fares) used to seed a fresh ledger.
package corpus

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/ntg2208/production-ai-customer-support/internal/ledger"
	"github.com/ntg2208/production-ai-customer-support/internal/support"
)

//go:embed policy.md
var policyText string

// PolicyDoc is the source document name the policy corpus is ingested under.
const PolicyDoc = "ukconnect-policies"

// Policy returns the full customer policy document.
func Policy() string { return policyText }

type route struct {
	from, to string
	distance int
	prices   map[support.TicketType]float64
}

var routes = []route{
	{"London Euston", "Manchester Piccadilly", 320, map[support.TicketType]float64{support.TicketStandard: 67.50, support.TicketFlexible: 89.00, support.TicketFirstClass: 125.00}},
	{"Manchester Piccadilly", "London Euston", 320, map[support.TicketType]float64{support.TicketStandard: 67.50, support.TicketFlexible: 89.00, support.TicketFirstClass: 125.00}},
	{"London Euston", "Birmingham New Street", 190, map[support.TicketType]float64{support.TicketStandard: 52.50, support.TicketFlexible: 70.00, support.TicketFirstClass: 95.00}},
	{"Birmingham New Street", "London Euston", 190, map[support.TicketType]float64{support.TicketStandard: 52.50, support.TicketFlexible: 70.00, support.TicketFirstClass: 95.00}},
	{"London King's Cross", "Edinburgh Waverley", 630, map[support.TicketType]float64{support.TicketStandard: 98.00, support.TicketFlexible: 130.00, support.TicketFirstClass: 185.00}},
	{"Edinburgh Waverley", "London King's Cross", 630, map[support.TicketType]float64{support.TicketStandard: 98.00, support.TicketFlexible: 130.00, support.TicketFirstClass: 185.00}},
	{"Liverpool Lime Street", "Manchester Piccadilly", 55, map[support.TicketType]float64{support.TicketStandard: 25.00, support.TicketFlexible: 35.00}},
	{"Glasgow Central", "Edinburgh Waverley", 75, map[support.TicketType]float64{support.TicketStandard: 18.50, support.TicketFlexible: 28.00, support.TicketFirstClass: 45.00}},
}

// Schedules returns the daily UKConnect timetable.
func Schedules() []support.Schedule {
	return []support.Schedule{
		{TrainNumber: "UK101", ServiceName: "London to Manchester Express", Operator: "Virgin Trains", FromStation: "London Euston", ToStation: "Manchester Piccadilly", Departure: "09:30", Arrival: "11:38", DurationMin: 128, DistanceKM: 320},
		{TrainNumber: "UK102", ServiceName: "London to Manchester Express", Operator: "Virgin Trains", FromStation: "London Euston", ToStation: "Manchester Piccadilly", Departure: "11:30", Arrival: "13:38", DurationMin: 128, DistanceKM: 320},
		{TrainNumber: "UK103", ServiceName: "London to Manchester Express", Operator: "Virgin Trains", FromStation: "London Euston", ToStation: "Manchester Piccadilly", Departure: "13:30", Arrival: "15:38", DurationMin: 128, DistanceKM: 320},
		{TrainNumber: "UK201", ServiceName: "Manchester to London Express", Operator: "Virgin Trains", FromStation: "Manchester Piccadilly", ToStation: "London Euston", Departure: "08:15", Arrival: "10:23", DurationMin: 128, DistanceKM: 320},
		{TrainNumber: "UK202", ServiceName: "Manchester to London Express", Operator: "Virgin Trains", FromStation: "Manchester Piccadilly", ToStation: "London Euston", Departure: "10:15", Arrival: "12:23", DurationMin: 128, DistanceKM: 320},
		{TrainNumber: "UK301", ServiceName: "London to Birmingham Service", Operator: "CrossCountry", FromStation: "London Euston", ToStation: "Birmingham New Street", Departure: "08:00", Arrival: "09:23", DurationMin: 83, DistanceKM: 190},
		{TrainNumber: "UK302", ServiceName: "London to Birmingham Service", Operator: "CrossCountry", FromStation: "London Euston", ToStation: "Birmingham New Street", Departure: "09:00", Arrival: "10:23", DurationMin: 83, DistanceKM: 190},
		{TrainNumber: "UK401", ServiceName: "Birmingham to London Service", Operator: "CrossCountry", FromStation: "Birmingham New Street", ToStation: "London Euston", Departure: "07:30", Arrival: "08:53", DurationMin: 83, DistanceKM: 190},
		{TrainNumber: "UK402", ServiceName: "Birmingham to London Service", Operator: "CrossCountry", FromStation: "Birmingham New Street", ToStation: "London Euston", Departure: "08:30", Arrival: "09:53", DurationMin: 83, DistanceKM: 190},
		{TrainNumber: "UK501", ServiceName: "London to Edinburgh Service", Operator: "LNER", FromStation: "London King's Cross", ToStation: "Edinburgh Waverley", Departure: "06:00", Arrival: "10:28", DurationMin: 268, DistanceKM: 630},
		{TrainNumber: "UK502", ServiceName: "London to Edinburgh Service", Operator: "LNER", FromStation: "London King's Cross", ToStation: "Edinburgh Waverley", Departure: "07:00", Arrival: "11:28", DurationMin: 268, DistanceKM: 630},
		{TrainNumber: "UK601", ServiceName: "Edinburgh to London Service", Operator: "LNER", FromStation: "Edinburgh Waverley", ToStation: "London King's Cross", Departure: "08:00", Arrival: "12:28", DurationMin: 268, DistanceKM: 630},
		{TrainNumber: "UK602", ServiceName: "Edinburgh to London Service", Operator: "LNER", FromStation: "Edinburgh Waverley", ToStation: "London King's Cross", Departure: "09:00", Arrival: "13:28", DurationMin: 268, DistanceKM: 630},
		{TrainNumber: "UK701", ServiceName: "Liverpool to Manchester Local", Operator: "Northern Rail", FromStation: "Liverpool Lime Street", ToStation: "Manchester Piccadilly", Departure: "08:00", Arrival: "08:47", DurationMin: 47, DistanceKM: 55},
		{TrainNumber: "UK801", ServiceName: "Glasgow to Edinburgh Shuttle", Operator: "ScotRail", FromStation: "Glasgow Central", ToStation: "Edinburgh Waverley", Departure: "08:00", Arrival: "08:55", DurationMin: 55, DistanceKM: 75},
	}
}

// Fares returns the base price table, one row per route and fare class.
func Fares() []support.Fare {
	var fares []support.Fare
	for _, r := range routes {
		for _, tt := range []support.TicketType{support.TicketStandard, support.TicketFlexible, support.TicketFirstClass} {
			price, ok := r.prices[tt]
			if !ok {
				continue
			}
			fares = append(fares, support.Fare{
				FromStation: r.from,
				ToStation:   r.to,
				TicketType:  tt,
				BasePrice:   price,
				DistanceKM:  r.distance,
			})
		}
	}
	return fares
}

// Customers returns the reference customer roster.
func Customers() []support.Customer {
	created := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	rows := []struct{ id, name, address, email, phone string }{
		{"CUS001", "James Thompson", "42 Baker Street, London W1U 6TQ", "james.thompson@email.co.uk", "+44 20 7946 0101"},
		{"CUS002", "Sarah Williams", "15 High Street, Manchester M1 1FB", "sarah.williams@email.co.uk", "+44 161 234 5678"},
		{"CUS003", "Michael Davies", "78 Corporation Street, Birmingham B2 4QZ", "michael.davies@email.co.uk", "+44 121 345 6789"},
		{"CUS004", "Emily Johnson", "123 Princes Street, Edinburgh EH2 4AD", "emily.johnson@email.co.uk", "+44 131 456 7890"},
		{"CUS005", "Robert Brown", "56 Bold Street, Liverpool L1 4DS", "robert.brown@email.co.uk", "+44 151 567 8901"},
		{"CUS006", "Lisa Wilson", "89 Park Row, Leeds LS1 5HD", "lisa.wilson@email.co.uk", "+44 113 678 9012"},
		{"CUS007", "David Evans", "34 Queen Street, Cardiff CF10 2BX", "david.evans@email.co.uk", "+44 29 2345 6789"},
		{"CUS008", "Jennifer Smith", "67 Union Street, Glasgow G1 3RB", "jennifer.smith@email.co.uk", "+44 141 234 5678"},
		{"CUS009", "Christopher Jones", "91 North Street, Brighton BN1 1ZA", "chris.jones@email.co.uk", "+44 1273 345 678"},
		{"CUS010", "Amanda Taylor", "12 King Street, Bristol BS1 4EF", "amanda.taylor@email.co.uk", "+44 117 456 7890"},
		{"CUS011", "Oliver Harris", "23 Victoria Road, Newcastle NE1 5DX", "oliver.harris@email.co.uk", "+44 191 234 5678"},
		{"CUS012", "Sophie Clark", "67 Castle Street, Liverpool L2 7LJ", "sophie.clark@email.co.uk", "+44 151 345 6789"},
		{"CUS013", "Daniel Wright", "89 George Street, Oxford OX1 2BJ", "daniel.wright@email.co.uk", "+44 1865 234 567"},
		{"CUS014", "Emma Turner", "45 Royal Mile, Edinburgh EH1 1RE", "emma.turner@email.co.uk", "+44 131 567 8901"},
		{"CUS015", "Thomas Moore", "156 Deansgate, Manchester M3 3FE", "thomas.moore@email.co.uk", "+44 161 678 9012"},
		{"CUS016", "Charlotte White", "34 Regent Street, Cambridge CB2 1DP", "charlotte.white@email.co.uk", "+44 1223 345 678"},
		{"CUS017", "Jack Robinson", "78 Queen Victoria Street, London EC4V 4EJ", "jack.robinson@email.co.uk", "+44 20 7123 4567"},
		{"CUS018", "Grace Martin", "92 High Street, Bath BA1 5AQ", "grace.martin@email.co.uk", "+44 1225 567 890"},
		{"CUS019", "Henry Lee", "15 Buchanan Street, Glasgow G1 2FF", "henry.lee@email.co.uk", "+44 141 456 7890"},
		{"CUS020", "Chloe Hall", "203 Corporation Street, Birmingham B4 6QD", "chloe.hall@email.co.uk", "+44 121 789 0123"},
		{"CUS051", "Alex Smith", "12 Gower Street, London WC1E 6BT", "alex.smith@student.ac.uk", "+44 20 7679 2000"},
		{"CUS052", "Jordan Wilson", "45 Canary Wharf, London E14 5AB", "jordan.wilson@company.co.uk", "+44 20 7418 2000"},
		{"CUS053", "Casey Brown", "23 Broad Street, Birmingham B1 2HF", "casey.brown@email.co.uk", "+44 121 248 2000"},
		{"CUS054", "Sam Taylor", "67 Fleet Street, London EC4Y 1HT", "sam.taylor@emergency.co.uk", "+44 20 7353 2000"},
		{"CUS055", "Riley Jones", "89 University Avenue, Glasgow G12 8QQ", "riley.jones@student.ac.uk", "+44 141 330 2000"},
	}
	customers := make([]support.Customer, 0, len(rows))
	for _, r := range rows {
		customers = append(customers, support.Customer{
			ID:        r.id,
			Name:      r.name,
			Email:     r.email,
			Phone:     r.phone,
			Address:   r.address,
			CreatedAt: created,
		})
	}
	return customers
}

// SeedLedger loads the reference customers, fares and timetable into a
// ledger store. Existing rows with the same keys are replaced, so seeding
// is safe to repeat.
func SeedLedger(ctx context.Context, store *ledger.Store) error {
	for _, c := range Customers() {
		if err := store.PutCustomer(ctx, c); err != nil {
			return fmt.Errorf("seed customer %s: %w", c.ID, err)
		}
	}
	for _, f := range Fares() {
		if err := store.PutFare(ctx, f); err != nil {
			return fmt.Errorf("seed fare %s-%s: %w", f.FromStation, f.ToStation, err)
		}
	}
	for _, sc := range Schedules() {
		if err := store.PutSchedule(ctx, sc); err != nil {
			return fmt.Errorf("seed schedule %s: %w", sc.TrainNumber, err)
		}
	}
	return nil
}
