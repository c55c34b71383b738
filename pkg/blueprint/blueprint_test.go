package blueprint

import (
	"testing"
)

const vpcTemplate = `
AWSTemplateFormatVersion: "2010-09-09"
Description: Test VPC template
Parameters:
  CidrBlock:
    Type: String
    Description: VPC CIDR block
  InstanceType:
    Type: String
    Default: t3.micro
  EnableDns:
    Type: String
    Default: "true"
Resources:
  Vpc:
    Type: AWS::EC2::VPC
    Properties:
      CidrBlock:
        Ref: CidrBlock
Outputs:
  VpcId:
    Value:
      Ref: Vpc
`

const jsonTemplate = `{
  "Resources": {
    "Bucket": {"Type": "AWS::S3::Bucket"}
  }
}`

func TestParse_DeclaredParameters(t *testing.T) {
	bp, err := Parse("vpc", []byte(vpcTemplate))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	defs := bp.ParameterDefinitions()
	if len(defs) != 3 {
		t.Fatalf("Expected 3 parameter definitions, got %d", len(defs))
	}

	if !bp.Declares("CidrBlock") {
		t.Error("Expected CidrBlock to be declared")
	}
	if bp.Declares("Bogus") {
		t.Error("Did not expect Bogus to be declared")
	}
}

func TestParse_RequiredParameters(t *testing.T) {
	bp, err := Parse("vpc", []byte(vpcTemplate))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	required := bp.RequiredParameterNames()
	if len(required) != 1 || required[0] != "CidrBlock" {
		t.Errorf("Expected required parameters [CidrBlock], got %v", required)
	}

	defs := bp.ParameterDefinitions()
	if defs["InstanceType"].Required() {
		t.Error("InstanceType has a default and must not be required")
	}
	if !defs["CidrBlock"].Required() {
		t.Error("CidrBlock has no default and must be required")
	}
}

func TestParse_JSONTemplate(t *testing.T) {
	bp, err := Parse("buckets", []byte(jsonTemplate))
	if err != nil {
		t.Fatalf("Expected JSON template to parse, got: %v", err)
	}

	if len(bp.ParameterDefinitions()) != 0 {
		t.Errorf("Expected no parameters, got %d", len(bp.ParameterDefinitions()))
	}
	if len(bp.RequiredParameterNames()) != 0 {
		t.Errorf("Expected no required parameters")
	}
}

func TestParse_NoResources(t *testing.T) {
	_, err := Parse("empty", []byte(`Description: nothing here`))
	if err == nil {
		t.Fatal("Expected error for template without resources")
	}
}

func TestParse_ResourceMissingType(t *testing.T) {
	body := `
Resources:
  Broken:
    Properties:
      Name: x
`
	_, err := Parse("broken", []byte(body))
	if err == nil {
		t.Fatal("Expected schema validation error for resource without Type")
	}
}

func TestParse_BodyRoundTrip(t *testing.T) {
	bp, err := Parse("vpc", []byte(vpcTemplate))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if string(bp.Body()) != vpcTemplate {
		t.Error("Body must return the template exactly as authored")
	}
}
