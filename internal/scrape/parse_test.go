package scrape

import "testing"

const rangesFixture = `
<div>
  <div class="card card-body mb-1 pointer" onclick="getDetials('VENEZUELA 58XXX')">
    <div class="row"><div class="col">VENEZUELA 58XXX</div><div class="col">12</div></div>
  </div>
  <div class="card card-body mb-1 pointer" onclick="getDetials('COLOMBIA 57XXX')">
    <div class="row"><div class="col">COLOMBIA 57XXX</div><div class="col">3</div></div>
  </div>
  <div class="card card-body mb-1 pointer" onclick="getDetials('VENEZUELA 58XXX')">
    <div class="row"><div class="col">duplicate entry</div></div>
  </div>
</div>`

const rangesTableFixture = `
<table><tbody>
  <tr><td>PERU 51XXX</td><td>4</td></tr>
  <tr><td>CHILE 56XXX</td><td>1</td></tr>
</tbody></table>`

const numbersFixture = `
<div>
  <div class="card card-body border-bottom bg-100 p-2 rounded-0">
    <div class="row">
      <div class="col" onclick="getDetialsNumber('584120000001')">584120000001</div>
    </div>
  </div>
  <div class="card card-body border-bottom bg-100 p-2 rounded-0">
    <div class="row">
      <div class="col" onclick="getDetialsNumber('584120000002')">584120000002</div>
    </div>
  </div>
</div>`

const numbersCellFixture = `
<table><tbody>
  <tr><td>584120000003</td><td>active</td></tr>
  <tr><td>not a number</td><td>584120000004</td></tr>
</tbody></table>`

const messagesFixture = `
<div class="row">
  <div class="col-9 col-sm-6 text-center text-sm-start">
    <p>Your WhatsApp code is 947-444</p>
  </div>
  <div class="col-9 col-sm-6 text-center text-sm-start">
    <p>Use 1234 to verify your account</p>
  </div>
</div>`

const messagesTableFixture = `
<table><tbody>
  <tr><td>1</td><td>584120000001</td><td>Telegram code 55443</td></tr>
</tbody></table>`

func TestParseRangesFromCards(t *testing.T) {
	ranges, err := ParseRanges(rangesFixture)
	if err != nil {
		t.Fatalf("ParseRanges failed: %v", err)
	}
	want := []string{"VENEZUELA 58XXX", "COLOMBIA 57XXX"}
	if len(ranges) != len(want) {
		t.Fatalf("Expected %d ranges, got %d: %v", len(want), len(ranges), ranges)
	}
	for i, r := range want {
		if ranges[i] != r {
			t.Errorf("Range %d: expected %q, got %q", i, r, ranges[i])
		}
	}
}

func TestParseRangesTableFallback(t *testing.T) {
	ranges, err := ParseRanges(rangesTableFixture)
	if err != nil {
		t.Fatalf("ParseRanges failed: %v", err)
	}
	if len(ranges) != 2 || ranges[0] != "PERU 51XXX" || ranges[1] != "CHILE 56XXX" {
		t.Errorf("Unexpected table fallback result: %v", ranges)
	}
}

func TestParseRangesEmpty(t *testing.T) {
	ranges, err := ParseRanges("<html><body><p>nothing here</p></body></html>")
	if err != nil {
		t.Fatalf("ParseRanges failed: %v", err)
	}
	if len(ranges) != 0 {
		t.Errorf("Expected no ranges, got %v", ranges)
	}
}

func TestParseNumbersFromCards(t *testing.T) {
	numbers, err := ParseNumbers(numbersFixture)
	if err != nil {
		t.Fatalf("ParseNumbers failed: %v", err)
	}
	if len(numbers) != 2 || numbers[0] != "584120000001" || numbers[1] != "584120000002" {
		t.Errorf("Unexpected numbers: %v", numbers)
	}
}

func TestParseNumbersRejectsNonNumericCandidates(t *testing.T) {
	html := `
<div>
  <div class="card card-body border-bottom bg-100 p-2 rounded-0">
    <div class="col" onclick="getDetialsNumber('VENEZUELA 58XXX')">VENEZUELA 58XXX</div>
  </div>
  <div class="card card-body border-bottom bg-100 p-2 rounded-0">
    <div class="col" onclick="getDetialsNumber('12345')">12345</div>
  </div>
  <div class="card card-body border-bottom bg-100 p-2 rounded-0">
    <div class="col" onclick="getDetialsNumber('1234567890123456')">too long</div>
  </div>
  <div class="card card-body border-bottom bg-100 p-2 rounded-0">
    <div class="col" onclick="getDetialsNumber('584120000001')">584120000001</div>
  </div>
</div>`

	numbers, err := ParseNumbers(html)
	if err != nil {
		t.Fatalf("ParseNumbers failed: %v", err)
	}
	if len(numbers) != 1 || numbers[0] != "584120000001" {
		t.Errorf("Expected only the valid phone number, got %v", numbers)
	}
}

func TestParseNumbersCellFallback(t *testing.T) {
	numbers, err := ParseNumbers(numbersCellFixture)
	if err != nil {
		t.Fatalf("ParseNumbers failed: %v", err)
	}
	if len(numbers) != 2 {
		t.Fatalf("Expected 2 numbers, got %v", numbers)
	}
	if numbers[0] != "584120000003" || numbers[1] != "584120000004" {
		t.Errorf("Unexpected fallback numbers: %v", numbers)
	}
}

func TestParseMessagesPrimarySelector(t *testing.T) {
	messages, err := ParseMessages(messagesFixture)
	if err != nil {
		t.Fatalf("ParseMessages failed: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("Expected 2 messages, got %v", messages)
	}
	if messages[0] != "Your WhatsApp code is 947-444" {
		t.Errorf("Unexpected first message: %q", messages[0])
	}
}

func TestParseMessagesTableFallback(t *testing.T) {
	messages, err := ParseMessages(messagesTableFixture)
	if err != nil {
		t.Fatalf("ParseMessages failed: %v", err)
	}
	if len(messages) != 1 || messages[0] != "Telegram code 55443" {
		t.Errorf("Unexpected fallback messages: %v", messages)
	}
}

func TestParseMessagesIgnoresShortFragments(t *testing.T) {
	messages, err := ParseMessages(`<div class="sms-message">ok</div><div class="sms-message">A real message body</div>`)
	if err != nil {
		t.Fatalf("ParseMessages failed: %v", err)
	}
	if len(messages) != 1 || messages[0] != "A real message body" {
		t.Errorf("Short fragments must be dropped, got %v", messages)
	}
}

func TestParseDirectoryJSON(t *testing.T) {
	body := `{"draw":1,"recordsTotal":2,"data":[
		["1","<a href=\"#\">584120000001</a>","<span>VENEZUELA 58XXX</span>","x"],
		["2","<a href=\"#\">573000000001</a>","<span>COLOMBIA 57XXX</span>","x"]
	]}`

	records := parseDirectoryJSON(body)
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %v", records)
	}
	if records[0].Number != "584120000001" || records[0].Range != "VENEZUELA 58XXX" {
		t.Errorf("Unexpected first record: %+v", records[0])
	}
}

func TestParseDirectoryJSONRejectsHTML(t *testing.T) {
	if records := parseDirectoryJSON("<html><body>login</body></html>"); records != nil {
		t.Errorf("Expected nil for non-JSON body, got %v", records)
	}
}

func TestParseDirectoryHTML(t *testing.T) {
	html := `<table><tbody>
		<tr><td>584120000001</td><td>VENEZUELA 58XXX</td></tr>
		<tr><td>ignore</td><td>also ignore</td></tr>
	</tbody></table>`

	records, err := parseDirectoryHTML(html)
	if err != nil {
		t.Fatalf("parseDirectoryHTML failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %v", records)
	}
	if records[0].Number != "584120000001" || records[0].Range != "VENEZUELA 58XXX" {
		t.Errorf("Unexpected record: %+v", records[0])
	}
}
