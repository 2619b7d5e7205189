// Package config loads the launcher configuration: the database to train
// against, the objects to train, and one parameter block per pipeline type.
//
// Files may be written as JSON, native HCL attributes, or YAML. All three are
// evaluated through HCL so string values can interpolate the environment with
// ${env.NAME}.
//
// In JSON and YAML files an attribute whose strings do not reference env and
// do not evaluate as templates is read literally, so opaque values like
// "${id}" or "%{x}" survive. An attribute that references env is always
// evaluated; its other strings must escape template sequences as $${ and
// %%{. Native HCL files follow the usual HCL escaping rules.
package config
