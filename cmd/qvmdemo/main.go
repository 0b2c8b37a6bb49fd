/*
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

// Command qvmdemo loads a handful of JSON documents into a collection, builds a
// secondary index, and runs one filter query and one aggregation pipeline against it -
// exercising the whole engine end to end from the outside, the way a smoke test would.
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/embedb/qvm"
)

func main() {
	dir, err := os.MkdirTemp("", "qvmdemo")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	store, err := qvm.OpenBoltStore(filepath.Join(dir, "demo.db"))
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	db := qvm.Open(store)
	people := db.Collection("people")

	if err := people.EnsureIndex(qvm.NewIndex("by_city", "address.city")); err != nil {
		log.Fatal(err)
	}

	seed := []string{
		`{"name":"Ada","age":36,"address":{"city":"London"},"tags":["math","engineer"]}`,
		`{"name":"Grace","age":85,"address":{"city":"New York"},"tags":["navy","engineer"]}`,
		`{"name":"Alan","age":41,"address":{"city":"London"},"tags":["math"]}`,
	}
	for _, raw := range seed {
		doc, err := qvm.ParseJSONDocument([]byte(raw))
		if err != nil {
			log.Fatal(err)
		}
		if _, err := people.Insert(doc); err != nil {
			log.Fatal(err)
		}
	}

	results, err := people.Find(singleFieldFilter("address.city", qvm.String("London")))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("Londoners:")
	for _, doc := range results {
		name, _ := doc.Get("name")
		s, _ := name.AsString()
		fmt.Println(" -", s)
	}

	groupStage := qvm.NewDocument()
	groupSpec := qvm.NewDocument()
	groupSpec.Set("_id", qvm.String("$address.city"))
	totalAge := qvm.NewDocument()
	totalAge.Set("$sum", qvm.String("$age"))
	groupSpec.Set("totalAge", totalAge.AsValue())
	groupStage.Set("$group", groupSpec.AsValue())

	agg, err := qvm.Aggregate(people, []qvm.Document{groupStage})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("Total age by city:")
	for _, doc := range agg {
		city, _ := doc.Get("_id")
		total, _ := doc.Get("totalAge")
		cs, _ := city.AsString()
		fmt.Printf(" - %s: %v\n", cs, total)
	}
}

func singleFieldFilter(path string, v qvm.Value) qvm.Document {
	d := qvm.NewDocument()
	d.Set(path, v)
	return d
}
